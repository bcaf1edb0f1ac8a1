package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/seer/internal/jobs"
)

// resultEvent is the last event of every stream; its data is the job.
const resultEvent = "result"

// handleStream streams a job's progress via Server-Sent Events.
//
// Events recorded before the client connected are replayed first, then
// live ones follow until the job finishes. The stream always ends with a
// "result" event carrying the job state and result:
//
//	GET /api/v1/jobs/{id}/stream
//
//	id: 0
//	event: started
//	data: {"type":"started","message":"run started",...}
//
//	id: 1
//	event: progress
//	data: {"type":"progress","step":"search","count":20,...}
//
//	id: 9
//	event: result
//	data: {"id":"...","state":"completed","result":{...}}
func (s *Server) handleStream(c echo.Context) error {
	id := c.Param("id")
	past, live, cancel, err := s.jobs.Subscribe(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	defer cancel()

	ctx := c.Request().Context()
	defer s.metrics.streamOpened(ctx)()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	seq := 0
	for _, e := range past {
		if err := writeEvent(w, seq, string(e.Type), e); err != nil {
			return nil
		}
		seq++
	}
	w.Flush()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-live:
			if !ok {
				s.writeResult(w, id, seq)
				return nil
			}
			if err := writeEvent(w, seq, string(e.Type), e); err != nil {
				return nil
			}
			seq++
			w.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()

		case <-ctx.Done():
			return nil

		case <-s.closing:
			return nil
		}
	}
}

func (s *Server) writeResult(w *echo.Response, id string, seq int) {
	job, err := s.jobs.Get(id)
	if errors.Is(err, jobs.ErrNotFound) {
		_ = writeEvent(w, seq, string(jobs.StateFailed), map[string]string{"error": "job evicted before completion"})
	} else {
		_ = writeEvent(w, seq, resultEvent, job)
	}
	w.Flush()
}

func writeEvent(w io.Writer, id int, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
