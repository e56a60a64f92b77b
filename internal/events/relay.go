package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Source hands out pending messages. Claim locks up to limit messages, calls
// fn with them and marks them sent only when fn succeeds. It returns the
// number of messages claimed.
type Source interface {
	Claim(ctx context.Context, limit int, fn func(ctx context.Context, msgs []Message) error) (int, error)
}

// Publisher delivers messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// Relay periodically moves messages from a Source to a Publisher.
type Relay struct {
	src      Source
	pub      Publisher
	interval time.Duration
	batch    int
}

// NewRelay creates a Relay. Non-positive interval and batch fall back to one
// second and 100 messages.
func NewRelay(src Source, pub Publisher, interval time.Duration, batch int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{src: src, pub: pub, interval: interval, batch: batch}
}

// Run flushes the source every interval until ctx is done. Publish failures
// are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("relay")
	lg.Info("Outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch", r.batch),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				lg.Warn("Outbox flush failed", zap.Int("published", n), zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Debug("Outbox flushed", zap.Int("published", n))
			}
		}
	}
}

// Flush publishes pending messages batch by batch until a claim comes back
// short. It returns the number of messages published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var total int
	for {
		n, err := r.src.Claim(ctx, r.batch, r.pub.Publish)
		if err != nil {
			return total, errors.Wrap(err, "claim outbox")
		}
		total += n
		if n < r.batch {
			return total, nil
		}
	}
}
