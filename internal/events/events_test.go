package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-orders/internal/domain/order"
)

func TestEncodeDecode(t *testing.T) {
	ev := order.Event{
		ID:         "e1",
		Type:       order.EventStatusChanged,
		OrderID:    "o1",
		UserID:     "u1",
		From:       order.StatusCreated,
		To:         order.StatusPaid,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC),
	}

	got, err := Decode(Encode(ev))
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestEncode_OmitsEmptyFrom(t *testing.T) {
	data := Encode(order.Event{ID: "e1", Type: order.EventCreated, OrderID: "o1", To: order.StatusCreated})
	assert.NotContains(t, string(data), `"from"`)
	assert.Contains(t, string(data), `"to":"CREATED"`)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	ev, err := Decode([]byte(`{"id":"e1","extra":{"a":[1,2]},"to":"PAID","occurredAt":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, order.StatusPaid, ev.To)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"occurredAt":"yesterday"}`))
	require.Error(t, err)
	_, err = Decode([]byte(`[`))
	require.Error(t, err)
}

// memSource hands out pending messages and removes them on success.
type memSource struct {
	mu      sync.Mutex
	pending []Message
	claims  int
}

func (s *memSource) Claim(ctx context.Context, limit int, fn func(ctx context.Context, msgs []Message) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++

	n := min(limit, len(s.pending))
	if n == 0 {
		return 0, nil
	}
	batch := append([]Message(nil), s.pending[:n]...)
	if err := fn(ctx, batch); err != nil {
		return 0, err
	}
	s.pending = s.pending[n:]
	return n, nil
}

type memPublisher struct {
	mu   sync.Mutex
	got  []Message
	fail error
}

func (p *memPublisher) Publish(_ context.Context, msgs []Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.got = append(p.got, msgs...)
	return nil
}

func messages(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{ID: int64(i + 1), Key: "o1", Type: order.EventUpdated}
	}
	return out
}

func TestRelay_FlushDrainsInBatches(t *testing.T) {
	src := &memSource{pending: messages(5)}
	pub := &memPublisher{}
	r := NewRelay(src, pub, time.Second, 2)

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, src.claims)
	assert.Len(t, pub.got, 5)
	assert.Empty(t, src.pending)
	for i, m := range pub.got {
		assert.Equal(t, int64(i+1), m.ID)
	}
}

func TestRelay_FlushKeepsMessagesOnPublishFailure(t *testing.T) {
	src := &memSource{pending: messages(3)}
	pub := &memPublisher{fail: errors.New("broker down")}
	r := NewRelay(src, pub, time.Second, 10)

	n, err := r.Flush(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Len(t, src.pending, 3)

	pub.fail = nil
	n, err = r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	src := &memSource{pending: messages(3)}
	pub := &memPublisher{}
	r := NewRelay(src, pub, 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.got) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

type fakeWriter struct {
	got    []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.got = append(w.got, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), []Message{
		{ID: 1, Type: order.EventCreated, Key: "o1", Payload: []byte(`{"id":"e1"}`), CreatedAt: at},
	})
	require.NoError(t, err)
	require.Len(t, w.got, 1)

	m := w.got[0]
	assert.Equal(t, "o1", string(m.Key))
	assert.JSONEq(t, `{"id":"e1"}`, string(m.Value))
	assert.Equal(t, at, m.Time)
	require.Len(t, m.Headers, 1)
	assert.Equal(t, HeaderEventType, m.Headers[0].Key)
	assert.Equal(t, order.EventCreated, string(m.Headers[0].Value))

	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Len(t, w.got, 1)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092,"))
	assert.Nil(t, ParseBrokers(""))
}
