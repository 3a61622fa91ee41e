package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiroproxy/kiroproxy/internal/anthropic"
	"github.com/kiroproxy/kiroproxy/internal/apperr"
	"github.com/kiroproxy/kiroproxy/internal/eventstream"
	"github.com/kiroproxy/kiroproxy/internal/flow"
	"github.com/kiroproxy/kiroproxy/internal/metrics"
	"github.com/kiroproxy/kiroproxy/internal/sse"
	"github.com/kiroproxy/kiroproxy/internal/translator"
	"github.com/sirupsen/logrus"
)

// staticModels is the list advertised by GET /v1/models (spec.md §4.G).
var staticModels = []string{"claude-sonnet-4.5", "claude-opus-4.5", "claude-haiku-4.5"}

func (s *Server) handleModels(c *gin.Context) {
	data := make([]gin.H, len(staticModels))
	for i, m := range staticModels {
		data[i] = gin.H{"id": m, "type": "model"}
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// handleMessages implements POST /v1/messages (spec.md §4.G): decode,
// translate (D), dispatch (F), translate the response back (E) — streaming
// via SSE or buffered into a single JSON result depending on `stream`.
func (s *Server) handleMessages(c *gin.Context) {
	started := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.writeAppError(c, apperr.InvalidRequest("failed to read request body", err))
		return
	}

	var req anthropic.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeAppError(c, apperr.InvalidRequest("malformed JSON body", err))
		return
	}

	kiroReq, err := translator.ToKiroRequest(&req, "")
	if err != nil {
		s.writeAppError(c, apperr.As(err))
		return
	}

	result, err := s.dispatcher.Dispatch(c.Request.Context(), kiroReq)
	if err != nil {
		metrics.RecordUpstreamAttempt("exhausted")
		s.recordFlow(flow.Record{
			RequestID:  c.GetString("request_id"),
			Model:      req.Model,
			Stream:     req.Stream,
			DurationMS: time.Since(started).Milliseconds(),
			StatusCode: http.StatusServiceUnavailable,
			Error:      err.Error(),
		})
		s.writeAppError(c, apperr.As(err))
		return
	}
	defer func() { _ = result.Body.Close() }()
	metrics.RecordUpstreamAttempt("ok")

	model := translator.MapModel(req.Model)
	if req.Stream {
		s.streamMessage(c, result.Body, model, req, started)
		return
	}
	s.bufferMessage(c, result.Body, model, req, started)
}

// streamMessage drains the upstream event stream, translating it into
// Anthropic SSE events as frames arrive, honoring client disconnect via the
// request context (spec.md §4.G, §5).
func (s *Server) streamMessage(c *gin.Context, body io.ReadCloser, model string, req anthropic.Request, started time.Time) {
	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(flushWriter{rw: c.Writer})
	w := sse.NewWriter(bw)
	rt := translator.NewResponseTranslator(w)
	if err := rt.Start(model); err != nil {
		logrus.WithError(err).Warn("kiroproxy: front handler: message_start failed")
		return
	}

	var dec eventstream.Decoder
	buf := make([]byte, 32*1024)
	ctx := c.Request.Context()
	streamErr := false

readLoop:
	for {
		select {
		case <-ctx.Done():
			_ = rt.Finish()
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			frames, decErr := dec.Feed(buf[:n])
			for _, f := range frames {
				ev, evErr := eventstream.ParseEvent(f)
				if evErr != nil {
					logrus.WithError(evErr).Warn("kiroproxy: front handler: event parse failed")
					continue
				}
				if err := rt.Feed(ev); err != nil {
					logrus.WithError(err).Warn("kiroproxy: front handler: sse translation failed")
				}
			}
			if decErr != nil {
				logrus.WithError(decErr).Warn("kiroproxy: front handler: corrupt event stream frame")
				streamErr = true
				break readLoop
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				logrus.WithError(readErr).Warn("kiroproxy: front handler: upstream read failed")
				streamErr = true
			}
			break readLoop
		}
	}

	// A corrupt frame or a genuine upstream read failure after
	// message_start has already reached the client must not be reported
	// as a successful end_turn (spec.md §7): emit a synthetic
	// message_delta with stop_reason "error" instead.
	if streamErr {
		_ = rt.FinishError()
	} else {
		_ = rt.Finish()
	}
	status := http.StatusOK
	errMsg := ""
	if streamErr {
		errMsg = "upstream event stream failed"
	}
	s.recordFlow(flow.Record{
		RequestID:  c.GetString("request_id"),
		Model:      req.Model,
		Stream:     true,
		DurationMS: time.Since(started).Milliseconds(),
		StatusCode: status,
		Error:      errMsg,
	})
}

// bufferMessage drains the upstream event stream fully before responding
// with a single JSON Messages result (spec.md §4.G non-streaming branch).
func (s *Server) bufferMessage(c *gin.Context, body io.ReadCloser, model string, req anthropic.Request, started time.Time) {
	collector := translator.NewNonStreamCollector(model)

	var dec eventstream.Decoder
	buf := make([]byte, 32*1024)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			frames, decErr := dec.Feed(buf[:n])
			for _, f := range frames {
				ev, evErr := eventstream.ParseEvent(f)
				if evErr != nil {
					continue
				}
				collector.Feed(ev)
			}
			if decErr != nil {
				break
			}
		}
		if readErr != nil {
			break
		}
	}

	result := collector.Finish()
	metrics.RecordTokenUsage(model, result.Usage.InputTokens, result.Usage.OutputTokens)
	s.recordFlow(flow.Record{
		RequestID:    c.GetString("request_id"),
		Model:        req.Model,
		Stream:       false,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		DurationMS:   time.Since(started).Milliseconds(),
		StatusCode:   http.StatusOK,
	})
	c.JSON(http.StatusOK, result)
}

func (s *Server) recordFlow(rec flow.Record) {
	if s.flow == nil {
		return
	}
	rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	s.flow.Record(rec)
}

func (s *Server) writeAppError(c *gin.Context, ae *apperr.AppError) {
	c.Data(ae.HTTPStatusCode, "application/json", ae.ToAnthropic())
}

// flushWriter forces every Write through to the client immediately,
// required because sse.Writer buffers via bufio and gin otherwise defers
// chunked delivery until the handler returns.
type flushWriter struct{ rw gin.ResponseWriter }

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.rw.Write(p)
	f.rw.Flush()
	return n, err
}
