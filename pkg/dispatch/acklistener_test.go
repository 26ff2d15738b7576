package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marquee-labs/marquee/pkg/command"
	"github.com/marquee-labs/marquee/pkg/fabric"
	"github.com/marquee-labs/marquee/pkg/resiliency"
)

type ackRecorder struct {
	mu     sync.Mutex
	events []AckEvent
}

func (r *ackRecorder) record(e AckEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *ackRecorder) recorded() []AckEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AckEvent, len(r.events))
	copy(out, r.events)
	return out
}

func startListener(t *testing.T) (*fabric.Memory, *command.Registry, *ackRecorder) {
	t.Helper()
	fab := fabric.NewMemory()
	registry := command.NewRegistry(time.Minute)
	recorder := &ackRecorder{}
	listener := NewAckListener(fab, registry, nil, recorder.record)
	sub, err := listener.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return fab, registry, recorder
}

func trackCommand(t *testing.T, registry *command.Registry) string {
	t.Helper()
	id := command.NewID()
	require.NoError(t, registry.Create(command.Command{
		ID:       id,
		PlayerID: "p1",
		Type:     command.TypeReboot,
		IssuedAt: time.Now().UTC(),
	}))
	return id
}

func TestAckResolvesCommand(t *testing.T) {
	fab, registry, recorder := startListener(t)
	id := trackCommand(t, registry)

	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack",
		Ack{CommandID: id, Status: command.StatusAcked}))

	cmd, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, command.StatusAcked, cmd.Status)

	events := recorder.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].CommandID)
	assert.Equal(t, command.StatusAcked, events[0].Status)
}

func TestAckWithFailureStatus(t *testing.T) {
	fab, registry, _ := startListener(t)
	id := trackCommand(t, registry)

	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack",
		Ack{CommandID: id, Status: command.StatusFailed, Error: "display unplugged"}))

	cmd, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, command.StatusFailed, cmd.Status)
	assert.Equal(t, "display unplugged", cmd.Error)
}

func TestDuplicateAckFiresCallbackOnce(t *testing.T) {
	fab, registry, recorder := startListener(t)
	id := trackCommand(t, registry)

	ack := Ack{CommandID: id, Status: command.StatusAcked}
	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack", ack))
	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack", ack))

	assert.Len(t, recorder.recorded(), 1)
}

func TestLateAckAfterTimeoutDropped(t *testing.T) {
	fab, registry, recorder := startListener(t)
	id := trackCommand(t, registry)

	won, err := registry.Resolve(id, command.StatusTimeout, TimeoutError)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack",
		Ack{CommandID: id, Status: command.StatusAcked}))

	cmd, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, command.StatusTimeout, cmd.Status, "late ack must not override the timeout")
	assert.Empty(t, recorder.recorded())
}

func TestAckForUnknownCommandDropped(t *testing.T) {
	fab, _, recorder := startListener(t)

	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack",
		Ack{CommandID: "1700000000000-deadbeef0000", Status: command.StatusAcked}))

	assert.Empty(t, recorder.recorded())
}

func TestMalformedAcksDropped(t *testing.T) {
	fab, registry, recorder := startListener(t)
	id := trackCommand(t, registry)
	ctx := context.Background()

	require.NoError(t, fab.Publish(ctx, fabric.AckChannel, "ack", []byte(`not json`)))
	require.NoError(t, fab.PublishJSON(ctx, fabric.AckChannel, "ack", Ack{CommandID: "", Status: command.StatusAcked}))
	require.NoError(t, fab.PublishJSON(ctx, fabric.AckChannel, "ack", Ack{CommandID: id, Status: command.StatusPending}))
	require.NoError(t, fab.PublishJSON(ctx, fabric.AckChannel, "ack", Ack{CommandID: id, Status: "finished"}))
	// Timeout is reserved for the dispatcher's own timer.
	require.NoError(t, fab.PublishJSON(ctx, fabric.AckChannel, "ack", Ack{CommandID: id, Status: command.StatusTimeout}))

	cmd, ok := registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, command.StatusPending, cmd.Status)
	assert.Empty(t, recorder.recorded())
}

func TestEndToEndDispatchAndAck(t *testing.T) {
	fab := fabric.NewMemory()
	registry := command.NewRegistry(time.Minute)
	recorder := &ackRecorder{}
	listener := NewAckListener(fab, registry, nil, recorder.record)
	sub, err := listener.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	d := New(fab, resiliency.New("messaging", resiliency.Options{}), registry, Config{})
	id, err := d.Send(context.Background(), "player-1", command.TypeReboot, nil)
	require.NoError(t, err)

	require.NoError(t, fab.PublishJSON(context.Background(), fabric.AckChannel, "ack",
		Ack{CommandID: id, Status: command.StatusAcked}))

	cmd, ok := d.Status(id)
	require.True(t, ok)
	assert.Equal(t, command.StatusAcked, cmd.Status)
}
