package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memInbox struct {
	mu     sync.Mutex
	status map[string]string
	err    error
}

func (m *memInbox) Claim(_ context.Context, meta kafkax.EventMeta) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.status == nil {
		m.status = map[string]string{}
	}
	if st, ok := m.status[meta.EventID]; ok && st != "failed" {
		return false, nil
	}
	m.status[meta.EventID] = "processing"
	return true, nil
}

func (m *memInbox) Complete(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[eventID] = "done"
	return nil
}

func (m *memInbox) Fail(_ context.Context, eventID string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[eventID] = "failed"
	return nil
}

type sliceReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
	closed bool
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func message(id string) kafka.Message {
	return kafka.Message{
		Topic:   "booking.calendar.resync.requested.v1",
		Headers: kafkax.EventMeta{EventID: id, EventType: "booking.calendar.resync.requested.v1"}.Headers(),
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunSkipsDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &sliceReader{msgs: []kafka.Message{message("a"), message("a"), message("b")}, cancel: cancel}
	inbox := &memInbox{}
	var handled []string
	c := NewWithReader(discard(), inbox, reader, func(_ context.Context, msg kafka.Message) error {
		handled = append(handled, kafkax.ExtractEventMeta(msg).EventID)
		return nil
	})
	c.Run(ctx)

	assert.Equal(t, []string{"a", "b"}, handled)
	assert.Equal(t, map[string]string{"a": "done", "b": "done"}, inbox.status)
	assert.True(t, reader.closed)
}

func TestHandleReportsFailures(t *testing.T) {
	c := NewWithReader(discard(), &memInbox{}, nil, func(context.Context, kafka.Message) error {
		return errors.New("resync failed")
	})
	require.False(t, c.Handle(context.Background(), message("x")))

	c = NewWithReader(discard(), &memInbox{err: errors.New("db down")}, nil, func(context.Context, kafka.Message) error {
		t.Fatal("handler must not run when the inbox fails")
		return nil
	})
	require.False(t, c.Handle(context.Background(), message("y")))
}

func TestFailedEventRunsAgainOnRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := &memInbox{}
	reader := &sliceReader{msgs: []kafka.Message{message("a"), message("a"), message("a")}, cancel: cancel}
	runs := 0
	c := NewWithReader(discard(), inbox, reader, func(context.Context, kafka.Message) error {
		runs++
		if runs == 1 {
			return errors.New("calendar down")
		}
		return nil
	})
	c.Run(ctx)

	assert.Equal(t, 2, runs)
	assert.Equal(t, "done", inbox.status["a"])
}
