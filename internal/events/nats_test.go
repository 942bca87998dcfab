package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
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

func TestNATSPublisher(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	inbox := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("protocold.events.>", inbox)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewNATS(server.ClientURL(), "protocold.events", logging.NewNop())
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(context.Background(), Event{
		Type:          StepCompleted,
		ProtocolRunID: 7,
		StepRunID:     3,
	})
	require.NoError(t, pub.nc.Flush())

	select {
	case msg := <-inbox:
		assert.Equal(t, "protocold.events.step.completed", msg.Subject)
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, int64(7), ev.ProtocolRunID)
		assert.Equal(t, int64(3), ev.StepRunID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = Noop{}
	p.Publish(context.Background(), Event{Type: ProtocolStarted})
	p.Close()
}
