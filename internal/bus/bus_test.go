package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/events"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func goalEvent(seq int) events.Event {
	return events.Event{
		Seq:  seq,
		Type: events.TypeGoalReceived,
		At:   time.Now().UTC(),
		GoalReceived: &events.GoalReceived{
			CorrelationID: "run-1",
			Goal:          "book a trip",
			UserID:        "user-1",
		},
	}
}

func TestSubjectScheme(t *testing.T) {
	assert.Equal(t, "runs.run-1.events.goal_received", SubjectFor("run-1", events.TypeGoalReceived))
	assert.Equal(t, "runs.run-1.events.*", RunWildcard("run-1"))
	assert.Equal(t, "goal_received", TypeFromSubject("runs.run-1.events.goal_received"))
	assert.Equal(t, "", TypeFromSubject("too.short"))
}

func TestPublisherRoundTrip(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), zap.NewNop())
	require.NoError(t, err)
	defer nc.Close()

	msgChan := make(chan *nats.Msg, 10)
	sub, err := nc.ChanSubscribe(RunWildcard("run-1"), msgChan)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := NewPublisher(nc, zap.NewNop())
	require.NoError(t, pub.PublishRunEvent(context.Background(), "run-1", goalEvent(1)))

	select {
	case msg := <-msgChan:
		assert.Equal(t, "runs.run-1.events.goal_received", msg.Subject)

		var got events.Event
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, 1, got.Seq)
		assert.Equal(t, events.TypeGoalReceived, got.Type)
		require.NotNil(t, got.GoalReceived)
		assert.Equal(t, "book a trip", got.GoalReceived.Goal)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublisherMirrorsTerminalEvents(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), zap.NewNop())
	require.NoError(t, err)
	defer nc.Close()

	msgChan := make(chan *nats.Msg, 10)
	sub, err := nc.ChanSubscribe("orchd.runs.*", msgChan)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	completed := events.Event{
		Seq:  7,
		Type: events.TypeWorkflowCompleted,
		At:   time.Now().UTC(),
		WorkflowCompleted: &events.WorkflowCompleted{
			CorrelationID: "run-1",
			PlanID:        "plan-1",
			TotalSteps:    2,
		},
	}

	pub := NewPublisher(nc, zap.NewNop())
	require.NoError(t, pub.PublishRunEvent(context.Background(), "run-1", completed))

	select {
	case msg := <-msgChan:
		assert.Equal(t, SubjectCompleted, msg.Subject)
	case <-time.After(2 * time.Second):
		t.Fatal("terminal mirror not delivered")
	}
}

func TestPublishFailsOnClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	pub := NewPublisher(nc, zap.NewNop())
	err = pub.PublishRunEvent(context.Background(), "run-1", goalEvent(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to")
}
