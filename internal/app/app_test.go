package app

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestKafkaConfig_BrokerList(t *testing.T) {
	for _, tt := range []struct {
		csv  string
		want []string
	}{
		{"", nil},
		{",", nil},
		{" , ,", nil},
		{"kafka:9092", []string{"kafka:9092"}},
		{" a:9092, ,b:9092 ", []string{"a:9092", "b:9092"}},
	} {
		t.Run(tt.csv, func(t *testing.T) {
			assert.Equal(t, tt.want, KafkaConfig{Brokers: tt.csv}.BrokerList())
		})
	}
}

func TestConfig_ValidateBlankBrokers(t *testing.T) {
	cfg := Config{
		DatabaseURL: "postgres://localhost/orders",
		Kafka:       KafkaConfig{Brokers: " , ", BatchSize: 10},
		RateLimit:   RateLimitConfig{Max: 1, Window: time.Second},
	}
	require.NoError(t, cfg.validate())

	cfg.Kafka.Brokers = "kafka:9092"
	require.ErrorContains(t, cfg.validate(), "kafka topic is required")
}

func TestNewHealth_OutboxCheck(t *testing.T) {
	db := pingerFunc(func(context.Context) error { return nil })
	stalled := func(context.Context) (time.Duration, error) { return time.Hour, nil }
	cfg := HealthConfig{MaxRelayLag: time.Minute}

	t.Run("RelayDisabled", func(t *testing.T) {
		brokers := KafkaConfig{Brokers: ","}.BrokerList()
		h := newHealth(db, stalled, brokers, cfg)
		h.SetReady(true)
		h.Start(context.Background(), time.Millisecond)
		defer h.Stop()

		assert.Never(t, func() bool { return !h.IsReady() }, 50*time.Millisecond, 5*time.Millisecond)
	})
	t.Run("RelayEnabled", func(t *testing.T) {
		brokers := KafkaConfig{Brokers: "kafka:9092"}.BrokerList()
		h := newHealth(db, stalled, brokers, cfg)
		h.SetReady(true)
		h.Start(context.Background(), time.Millisecond)
		defer h.Stop()

		assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	})
	t.Run("LagError", func(t *testing.T) {
		broken := func(context.Context) (time.Duration, error) { return 0, errors.New("no db") }
		h := newHealth(db, broken, []string{"kafka:9092"}, cfg)
		h.SetReady(true)
		h.Start(context.Background(), time.Millisecond)
		defer h.Stop()

		assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)
	})
}
