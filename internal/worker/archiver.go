package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/events"
	"github.com/jmehdipour/clinic-recall/internal/kafka"
	"github.com/jmehdipour/clinic-recall/internal/metrics"
	"github.com/jmehdipour/clinic-recall/internal/model"
)

// Source is satisfied by *kafka.Consumer.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Sink is satisfied by repository.CHEventsRepository.
type Sink interface {
	InsertBatch(ctx context.Context, evs []model.StatusEvent) error
}

// Archiver copies message status events from Kafka into ClickHouse.
// Offsets are committed only after the block containing them was written,
// so a crash replays events instead of losing them; the latest-state table
// collapses the duplicates.
type Archiver struct {
	src  Source
	sink Sink
	log  *zap.Logger

	BatchSize int           // max events per insert
	BatchWait time.Duration // max time an event waits before flush
}

func NewArchiver(src Source, sink Sink, log *zap.Logger) *Archiver {
	return &Archiver{
		src:       src,
		sink:      sink,
		log:       log.Named("archiver"),
		BatchSize: 500,
		BatchWait: time.Second,
	}
}

// Run blocks until ctx is cancelled, then flushes what it holds.
func (a *Archiver) Run(ctx context.Context) error {
	if a.BatchSize <= 0 {
		a.BatchSize = 500
	}
	if a.BatchWait <= 0 {
		a.BatchWait = time.Second
	}

	in := make(chan kafka.Message, a.BatchSize*2)
	go a.fetch(ctx, in)

	tick := time.NewTicker(a.BatchWait)
	defer tick.Stop()

	var (
		pending []kafka.Message
		batch   []model.StatusEvent
	)

	flush := func(ctx context.Context) {
		if len(pending) == 0 {
			return
		}
		if err := a.sink.InsertBatch(ctx, batch); err != nil {
			// keep everything; the next tick retries the same block
			a.log.Error("clickhouse insert failed", zap.Int("events", len(batch)), zap.Error(err))
			return
		}
		if err := a.src.Commit(ctx, pending...); err != nil {
			a.log.Error("kafka commit failed", zap.Error(err))
		}
		metrics.ArchivedEvents.Add(float64(len(batch)))
		a.log.Debug("archived", zap.Int("events", len(batch)), zap.Int("messages", len(pending)))
		pending = pending[:0]
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			flush(fctx)
			cancel()
			return nil

		case m, ok := <-in:
			if !ok {
				flush(context.WithoutCancel(ctx))
				return nil
			}
			pending = append(pending, m)
			ev, err := events.Decode(m)
			if err != nil {
				a.log.Warn("skipping undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
			} else {
				batch = append(batch, ev)
			}
			if len(pending) >= a.BatchSize {
				flush(ctx)
			}

		case <-tick.C:
			flush(ctx)
		}
	}
}

func (a *Archiver) fetch(ctx context.Context, out chan<- kafka.Message) {
	defer close(out)
	for {
		m, err := a.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			a.log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}
