// Package worker folds attendance events from the queue into the daily summary.
package worker

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"swimschool/internal/attendance"
	"swimschool/internal/queue"
)

// Applier records one event. *attendance.Summary satisfies it.
type Applier interface {
	Apply(ctx context.Context, evt attendance.RecordedEvent) error
}

// Run consumes q until ctx is done or the queue closes. It returns the
// number of events applied.
func Run(ctx context.Context, q queue.Queue, sink Applier, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for msg := range messages {
		if msg.Type != attendance.EventRecorded {
			log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		var evt attendance.RecordedEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Warn("bad attendance event", zap.Error(err))
			continue
		}
		if err := sink.Apply(ctx, evt); err != nil {
			log.Error("apply attendance event failed", zap.String("record_id", evt.RecordID), zap.Error(err))
			continue
		}
		applied++
		log.Debug("attendance event applied",
			zap.String("record_id", evt.RecordID),
			zap.String("flow", string(evt.Flow)),
			zap.String("state", string(evt.State)),
		)
	}
	return applied, nil
}
