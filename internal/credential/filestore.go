package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// FileStore persists the credential pool to a single JSON file, the
// collaborator interface named in spec.md §6 (load_all/persist/delete)
// given a concrete minimal form (SPEC_FULL.md §4.K).
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadAll reads every persisted credential. A missing file is not an error
// and yields an empty pool, matching first-run behavior.
func (f *FileStore) LoadAll() ([]*Credential, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds []*Credential
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// PersistAll atomically rewrites the credentials file from the full pool
// snapshot. Using a temp-file-plus-rename avoids truncating the file on a
// partial write.
func (f *FileStore) PersistAll(creds []*Credential) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}
