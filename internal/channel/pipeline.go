// Package channel hosts the platform webhook servers and the shared
// event-handling pipeline behind them.
package channel

import (
	"context"
	"log/slog"

	"inspectbot/internal/dedup"
	"inspectbot/internal/dispatch"
	"inspectbot/internal/domain"
	"inspectbot/internal/metrics"
	"inspectbot/internal/session"
)

// Pipeline is the platform-agnostic half of event handling: idempotency
// gate, serialized session transition, single reply delivery, and job
// dispatch on finalize. Both webhook servers share this shape; only the
// codec and messenger differ.
type Pipeline struct {
	Gate       *dedup.Gate
	Sessions   *session.Store
	Engine     *session.Engine
	Dispatcher *dispatch.Dispatcher
	Messenger  domain.Messenger
	Logger     *slog.Logger
}

// HandleEvent processes one decoded, authenticated inbound event. It
// never returns an error: every failure mode ends in a local log entry
// or a plain-text explanation to the participant, and the webhook
// response is unaffected either way.
func (p *Pipeline) HandleEvent(ctx context.Context, ev *domain.InboundEvent) {
	if p.Gate.SeenOrRecord(ev.MessageID) {
		metrics.DuplicatesTotal.Inc()
		p.Logger.Info("duplicate delivery dropped", "platform", ev.Platform, "message_id", ev.MessageID)
		return
	}
	metrics.EventsTotal.Inc()
	p.Logger.Info("event received", "platform", ev.Platform, "sender", ev.SenderID, "message_id", ev.MessageID)

	// The transition (read-compute-write) is atomic per participant;
	// replies and dispatch happen after the lock is released.
	var (
		tr      session.Transition
		started bool
	)
	p.Sessions.Transition(ev.SenderID, func(cur *session.Session) *session.Session {
		next, t := p.Engine.Handle(cur, ev.SenderID, ev.Platform, ev.Text)
		tr = t
		started = cur == nil && next != nil
		return next
	})
	metrics.ActiveSessions.Set(int64(p.Sessions.Active()))

	if started {
		metrics.SessionsStarted.Inc()
	}

	// Outbound work survives the webhook request's cancellation; the
	// platform only needs the acknowledgment, not our side effects.
	ctx = context.WithoutCancel(ctx)

	switch tr.Action {
	case session.ActionAbort, session.ActionCancel:
		metrics.SessionsAborted.Inc()
		p.Logger.Info("session ended without dispatch", "platform", ev.Platform, "sender", ev.SenderID, "cancelled", tr.Action == session.ActionCancel)
	case session.ActionFinalize:
		p.Logger.Info("session finalized", "platform", ev.Platform, "sender", ev.SenderID, "flow", tr.Params.IntegrationFlow)
		p.Dispatcher.Dispatch(ctx, p.Messenger, ev.SenderID, tr.Params)
	}

	if tr.Reply != "" {
		if err := p.Messenger.SendText(ctx, ev.SenderID, tr.Reply); err != nil {
			p.Logger.Warn("reply delivery failed", "platform", ev.Platform, "sender", ev.SenderID, "err", err)
		}
	}
}
