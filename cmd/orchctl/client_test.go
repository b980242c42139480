package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/gateway"
)

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(gateway.HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	status, err := newClient(srv.URL).health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status)
}

func TestClientSubmitRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/runs", r.URL.Path)

		var req gateway.SubmitRunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "book a trip to Paris", req.Goal)
		assert.Equal(t, "alice", req.UserID)
		assert.Equal(t, map[string]string{"budget": "2000"}, req.Context)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(gateway.SubmitRunResponse{RunID: "run-123"})
	}))
	defer srv.Close()

	runID, err := newClient(srv.URL).submitRun(context.Background(),
		"book a trip to Paris", "alice", map[string]string{"budget": "2000"})
	require.NoError(t, err)
	assert.Equal(t, "run-123", runID)
}

func TestClientGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "run run-404 not found"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).runState(context.Background(), "run-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run run-404 not found")
	assert.Contains(t, err.Error(), "404")
}

func TestClientStreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/runs/run-123/events", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")

		write := func(ev events.Event) {
			data, err := json.Marshal(ev)
			require.NoError(t, err)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		}
		write(events.Event{Seq: 1, Type: events.TypeGoalReceived,
			GoalReceived: &events.GoalReceived{Goal: "test goal"}})
		fmt.Fprint(w, ": heartbeat\n\n")
		write(events.Event{Seq: 2, Type: events.TypeWorkflowCompleted,
			WorkflowCompleted: &events.WorkflowCompleted{TotalSteps: 1}})
	}))
	defer srv.Close()

	var seen []events.Type
	err := newClient(srv.URL).streamEvents(context.Background(), "run-123", func(ev events.Event) bool {
		seen = append(seen, ev.Type)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.TypeGoalReceived, events.TypeWorkflowCompleted}, seen)
}

func TestClientStreamEventsStopEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 1; i <= 5; i++ {
			fmt.Fprintf(w, "data: {\"seq\":%d,\"type\":\"tool_call_requested\"}\n\n", i)
		}
	}))
	defer srv.Close()

	count := 0
	err := newClient(srv.URL).streamEvents(context.Background(), "run-123", func(ev events.Event) bool {
		count++
		return count < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestParseContext(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", entries: nil, want: nil},
		{
			name:    "pairs",
			entries: []string{"budget=2000", "currency=EUR"},
			want:    map[string]string{"budget": "2000", "currency": "EUR"},
		},
		{
			name:    "value containing equals",
			entries: []string{"query=a=b"},
			want:    map[string]string{"query": "a=b"},
		},
		{name: "missing value separator", entries: []string{"budget"}, wantErr: true},
		{name: "empty key", entries: []string{"=2000"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseContext(tt.entries)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
