package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/bus"
	"github.com/fyrsmithlabs/orchd/internal/events"
)

// sseHeartbeatInterval keeps idle event streams alive through proxies.
const sseHeartbeatInterval = 30 * time.Second

// SubmitRunRequest is the request body for POST /api/v1/runs.
type SubmitRunRequest struct {
	Goal    string            `json:"goal"`
	UserID  string            `json:"user_id"`
	Context map[string]string `json:"context,omitempty"`
}

// SubmitRunResponse is the response body for POST /api/v1/runs.
type SubmitRunResponse struct {
	RunID string `json:"run_id"`
}

// CancelRunResponse is the response body for DELETE /api/v1/runs/:id.
type CancelRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSubmitRun starts a run and returns its ID immediately. The
// outcome is retrieved separately via the result endpoint.
func (s *Server) handleSubmitRun(c echo.Context) error {
	var req SubmitRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run submission", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Goal) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal field is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}

	runID, err := s.runs.StartRun(c.Request().Context(), req.Goal, req.UserID, req.Context)
	if err != nil {
		s.logger.Error("run submission failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	return c.JSON(http.StatusAccepted, SubmitRunResponse{RunID: runID})
}

// handleRunState returns the run's current derived state.
func (s *Server) handleRunState(c echo.Context) error {
	runID := c.Param("id")

	state, err := s.runs.RunState(c.Request().Context(), runID)
	if err != nil {
		return s.runError(runID, err)
	}

	return c.JSON(http.StatusOK, state)
}

// handleRunResult blocks until the run finishes and returns its
// terminal outcome.
func (s *Server) handleRunResult(c echo.Context) error {
	runID := c.Param("id")

	outcome, err := s.runs.RunResult(c.Request().Context(), runID)
	if err != nil {
		return s.runError(runID, err)
	}

	return c.JSON(http.StatusOK, outcome)
}

// handleCancelRun requests cancellation of a run.
func (s *Server) handleCancelRun(c echo.Context) error {
	runID := c.Param("id")

	if err := s.runs.CancelRun(c.Request().Context(), runID); err != nil {
		return s.runError(runID, err)
	}

	return c.JSON(http.StatusAccepted, CancelRunResponse{RunID: runID, Status: "canceling"})
}

// handleRunEvents streams the run's events as server-sent events. The
// recorded backlog is written first, then live events are tailed from
// NATS until the run reaches a terminal event or the client
// disconnects. Without a NATS connection the stream ends after the
// backlog.
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("id")

	sinceSeq := 0
	if raw := c.QueryParam("since_seq"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since_seq must be a non-negative integer")
		}
		sinceSeq = n
	}

	// Subscribe before the backlog query so nothing published between
	// the two is lost. Overlap is dropped by sequence number below.
	var msgs chan *nats.Msg
	if s.nc != nil {
		msgs = make(chan *nats.Msg, 64)
		sub, err := s.nc.ChanSubscribe(bus.RunWildcard(runID), msgs)
		if err != nil {
			s.logger.Error("event subscription failed",
				zap.String("run_id", runID),
				zap.Error(err),
			)
			return echo.NewHTTPError(http.StatusInternalServerError, "event subscription failed")
		}
		defer sub.Unsubscribe()
	}

	backlog, err := s.runs.RunEvents(c.Request().Context(), runID, sinceSeq)
	if err != nil {
		return s.runError(runID, err)
	}

	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set(echo.HeaderCacheControl, "no-cache")
	header.Set(echo.HeaderConnection, "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	lastSeq := sinceSeq
	terminal := false
	for _, ev := range backlog {
		if err := writeSSE(res, ev); err != nil {
			return nil
		}
		lastSeq = ev.Seq
		if isTerminalEvent(ev.Type) {
			terminal = true
		}
	}
	res.Flush()

	if terminal || s.nc == nil {
		return nil
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()

		case msg := <-msgs:
			var ev events.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.logger.Warn("dropping undecodable run event",
					zap.String("subject", msg.Subject),
					zap.Error(err),
				)
				continue
			}

			// A resumed history restarts its sequence numbers.
			if ev.Type == events.TypeRunResumed {
				lastSeq = 0
			}
			if ev.Seq <= lastSeq {
				continue
			}

			if err := writeSSE(res, ev); err != nil {
				return nil
			}
			lastSeq = ev.Seq
			res.Flush()

			if isTerminalEvent(ev.Type) {
				return nil
			}
		}
	}
}

// runError maps backend failures to HTTP status codes.
func (s *Server) runError(runID string, err error) error {
	if isNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
	}
	s.logger.Error("run lookup failed", zap.String("run_id", runID), zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "run lookup failed")
}

func writeSSE(w io.Writer, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func isTerminalEvent(t events.Type) bool {
	return t == events.TypeWorkflowCompleted || t == events.TypeWorkflowFailed
}
