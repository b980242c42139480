package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/gateway"
)

// client talks to the orchd gateway HTTP API.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: the result endpoint blocks until the
		// run finishes and event streams are long-lived.
		http: &http.Client{},
	}
}

func (c *client) health(ctx context.Context) (string, error) {
	var resp gateway.HealthResponse
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *client) submitRun(ctx context.Context, goal, userID string, runContext map[string]string) (string, error) {
	body, err := json.Marshal(gateway.SubmitRunRequest{
		Goal:    goal,
		UserID:  userID,
		Context: runContext,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp gateway.SubmitRunResponse
	if err := c.doJSON(req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

func (c *client) runState(ctx context.Context, runID string) (events.RunState, error) {
	var state events.RunState
	err := c.getJSON(ctx, "/api/v1/runs/"+runID, &state)
	return state, err
}

func (c *client) runResult(ctx context.Context, runID string) (gateway.RunOutcome, error) {
	var outcome gateway.RunOutcome
	err := c.getJSON(ctx, "/api/v1/runs/"+runID+"/result", &outcome)
	return outcome, err
}

func (c *client) cancelRun(ctx context.Context, runID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/runs/"+runID, nil)
	if err != nil {
		return err
	}
	var resp gateway.CancelRunResponse
	return c.doJSON(req, http.StatusAccepted, &resp)
}

// streamEvents tails the run's server-sent event stream, invoking fn
// for each event until the stream ends or fn returns false.
func (c *client) streamEvents(ctx context.Context, runID string, fn func(events.Event) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/runs/"+runID+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

func (c *client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusOK, out)
}

func (c *client) doJSON(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.errorFrom(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorFrom turns a non-success gateway response into an error,
// preferring the gateway's JSON error message over the raw body.
func (c *client) errorFrom(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return fmt.Errorf("gateway: %s (HTTP %d)", payload.Message, resp.StatusCode)
	}
	return fmt.Errorf("gateway: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// waitCtx bounds an operation with a timeout when one is set.
func waitCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
