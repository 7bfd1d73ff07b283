package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmehdipour/clinic-recall/internal/kafka"
	"github.com/jmehdipour/clinic-recall/internal/model"
)

// Publisher fans message status changes out to downstream consumers.
// Publishing is best effort: the MySQL row is the source of truth.
type Publisher interface {
	Publish(ctx context.Context, evs ...model.StatusEvent) error
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	w   writer
	log *zap.Logger
}

func NewKafkaPublisher(w writer, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, log: log.Named("events")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evs ...model.StatusEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal status event %s: %w", ev.LogID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ev.LogID), Value: b})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d status events: %w", len(msgs), err)
	}
	p.log.Debug("status events published", zap.Int("count", len(msgs)))
	return nil
}

type Noop struct{}

func (Noop) Publish(context.Context, ...model.StatusEvent) error { return nil }

// Decode parses one message written by KafkaPublisher.
func Decode(m kafka.Message) (model.StatusEvent, error) {
	var ev model.StatusEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, err
	}
	if ev.LogID == "" {
		ev.LogID = string(m.Key)
	}
	return ev, nil
}
