package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/port/broadcast"
	"github.com/harnessforge/harnessforge/internal/port/messagequeue"
)

// EventPublisher reports session progress to the message queue and to live
// status clients. Either sink may be nil. Publishing never fails a session.
type EventPublisher struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewEventPublisher creates an EventPublisher.
func NewEventPublisher(queue messagequeue.Queue, hub broadcast.Broadcaster) *EventPublisher {
	return &EventPublisher{queue: queue, hub: hub}
}

// Stage reports the most recent transition of s.
func (p *EventPublisher) Stage(ctx context.Context, s *session.Session) {
	if p == nil || len(s.History) == 0 {
		return
	}
	t := s.History[len(s.History)-1]
	payload := messagequeue.SessionStagePayload{
		SessionID:     s.ID,
		Project:       s.Task.Project,
		Function:      s.Task.Function,
		Iteration:     s.Iteration,
		From:          string(t.From),
		To:            string(t.To),
		Note:          t.Note,
		FixCount:      s.Budgets.FixCount,
		ToolCallCount: s.Budgets.ToolCallCount,
	}
	p.publish(ctx, messagequeue.SubjectSessionStage, payload)
	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, broadcast.EventSessionStage, payload)
	}
}

// Finished reports the result of a terminal session.
func (p *EventPublisher) Finished(ctx context.Context, s *session.Session) {
	if p == nil {
		return
	}
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	payload := messagequeue.SessionFinishedPayload{
		SessionID:  s.ID,
		Project:    s.Task.Project,
		Function:   s.Task.Function,
		Iteration:  s.Iteration,
		Status:     string(s.Result.Status),
		Reason:     s.Result.Reason,
		FixCount:   s.Budgets.FixCount,
		Diagnostic: s.Result.Diagnostic,
		DurationMS: end.Sub(s.StartedAt).Milliseconds(),
	}
	p.publish(ctx, messagequeue.SubjectSessionFinished, payload)
	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, broadcast.EventSessionFinished, payload)
	}
}

func (p *EventPublisher) publish(ctx context.Context, subject string, payload any) {
	if p.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.queue.Publish(context.WithoutCancel(ctx), subject, data); err != nil {
		slog.Warn("publish event", "subject", subject, "error", err)
	}
}
