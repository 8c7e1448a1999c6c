// Reconciliation scheduler: advances notification state without a client
// request. Two independent timers share the process with the HTTP API. One
// promotes due scheduled notifications into a send attempt, the other polls
// the provider for delivery confirmation of accepted messages.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"staffnotify/internal/domain"
	"staffnotify/internal/observability"
	"staffnotify/internal/providers/smsprosto"
	"staffnotify/internal/store"
	"staffnotify/internal/util"
)

type Store interface {
	ListDueScheduled(ctx context.Context, now time.Time) ([]store.Notification, error)
	ListAwaitingConfirmation(ctx context.Context) ([]store.NotificationWithDetails, error)
	GetParticipant(ctx context.Context, id string) (store.Participant, bool, error)
	UpdateNotificationStatus(ctx context.Context, in store.NotificationStatusUpdate) (store.Notification, bool, error)
	InsertEventLog(ctx context.Context, in store.EventLogInsert) error
}

type Provider interface {
	Send(ctx context.Context, phone, text string) smsprosto.SendOutcome
	CheckStatus(ctx context.Context, smsID string) smsprosto.StatusOutcome
}

type Scheduler struct {
	Store    Store
	Provider Provider

	PromoteInterval time.Duration
	ConfirmInterval time.Duration

	// Overridable for tests; defaults to util.NewID / util.NowUTC.
	IDGen func(prefix string) string
	Clock func() time.Time

	mu      sync.Mutex
	started bool
}

var ErrAlreadyStarted = errors.New("scheduler already started")

// Start launches both timers. It is a one-time, process-wide action: a second
// call returns ErrAlreadyStarted. Exactly one instance per deployment may own
// the scheduler; the latch only protects against double starts in-process.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	promote := s.PromoteInterval
	if promote <= 0 {
		promote = time.Minute
	}
	confirm := s.ConfirmInterval
	if confirm <= 0 {
		confirm = 2 * time.Minute
	}

	go s.loop(ctx, "promotion", promote, s.promoteDue)
	go s.loop(ctx, "confirmation", confirm, s.confirmInFlight)

	slog.Info("sms scheduler started",
		"promote_interval", promote,
		"confirm_interval", confirm,
	)
	return nil
}

// loop runs one timer until the context is canceled. Tick errors are logged
// and swallowed; the next tick proceeds normally.
func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler timer stopped", "timer", name)
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				observability.SchedulerTicks.WithLabelValues(name, "error").Inc()
				slog.Error("scheduler tick failed", "timer", name, "err", err)
				continue
			}
			observability.SchedulerTicks.WithLabelValues(name, "ok").Inc()
		}
	}
}

// promoteDue moves every due scheduled notification into an active send
// attempt. Scheduled sends that the provider accepts land in "sent".
func (s *Scheduler) promoteDue(ctx context.Context) error {
	due, err := s.Store.ListDueScheduled(ctx, s.now())
	if err != nil {
		return err
	}

	for _, n := range due {
		s.promoteOne(ctx, n)
	}
	return nil
}

func (s *Scheduler) promoteOne(ctx context.Context, n store.Notification) {
	participant, found, err := s.Store.GetParticipant(ctx, n.ParticipantID)
	if err != nil {
		slog.Error("promotion participant lookup failed", "notification_id", n.ID, "err", err)
		return
	}
	if !found {
		// No provider call and no audit entry for this path; the status
		// change is the record.
		_, _, err := s.Store.UpdateNotificationStatus(ctx, store.NotificationStatusUpdate{
			ID:           n.ID,
			Status:       string(domain.StatusError),
			ErrorMessage: "Participant not found",
			Now:          s.now(),
		})
		if err != nil {
			slog.Error("promotion status update failed", "notification_id", n.ID, "err", err)
		}
		observability.Promotions.WithLabelValues("missing_participant").Inc()
		return
	}

	outcome := s.Provider.Send(ctx, participant.Phone, n.Message)
	if outcome.Success {
		sentAt := s.now()
		_, _, err := s.Store.UpdateNotificationStatus(ctx, store.NotificationStatusUpdate{
			ID:          n.ID,
			Status:      string(domain.StatusSent),
			SentAt:      &sentAt,
			SmsID:       outcome.SmsID,
			APIResponse: outcome.RawResponse,
			Now:         sentAt,
		})
		if err != nil {
			slog.Error("promotion status update failed", "notification_id", n.ID, "err", err)
			return
		}
		s.logEvent(ctx, store.EventLogInsert{
			ParticipantID:  n.ParticipantID,
			StaffGroupID:   n.StaffGroupID,
			NotificationID: n.ID,
			Action:         domain.ActionSMSSent,
			Details:        "Scheduled SMS sent to " + participant.FullName + " (" + participant.Phone + ")",
			Result:         domain.ResultSuccess,
			APIResponse:    outcome.RawResponse,
		})
		observability.Promotions.WithLabelValues("ok").Inc()
		return
	}

	_, _, err = s.Store.UpdateNotificationStatus(ctx, store.NotificationStatusUpdate{
		ID:           n.ID,
		Status:       string(domain.StatusError),
		ErrorMessage: outcome.Error,
		APIResponse:  outcome.RawResponse,
		Now:          s.now(),
	})
	if err != nil {
		slog.Error("promotion status update failed", "notification_id", n.ID, "err", err)
		return
	}
	s.logEvent(ctx, store.EventLogInsert{
		ParticipantID:  n.ParticipantID,
		StaffGroupID:   n.StaffGroupID,
		NotificationID: n.ID,
		Action:         domain.ActionSMSSendFailed,
		Details:        "Failed to send scheduled SMS to " + participant.FullName,
		Result:         domain.ResultError,
		ErrorMessage:   outcome.Error,
		APIResponse:    outcome.RawResponse,
	})
	observability.Promotions.WithLabelValues("error").Inc()
}

// confirmInFlight polls delivery status for every notification the provider
// has accepted but not yet confirmed. Rows are updated only when the mapped
// status differs from the stored one; an audit entry is written only for the
// transition to delivered.
func (s *Scheduler) confirmInFlight(ctx context.Context) error {
	pending, err := s.Store.ListAwaitingConfirmation(ctx)
	if err != nil {
		return err
	}

	for _, n := range pending {
		if n.SmsID == "" {
			continue
		}
		s.confirmOne(ctx, n)
	}
	return nil
}

func (s *Scheduler) confirmOne(ctx context.Context, n store.NotificationWithDetails) {
	status := s.Provider.CheckStatus(ctx, n.SmsID)
	if !status.Success || status.Status == "" {
		return
	}

	newStatus := smsprosto.MapStatus(status.Status)
	if string(newStatus) == n.Status {
		return
	}

	update := store.NotificationStatusUpdate{
		ID:          n.ID,
		Status:      string(newStatus),
		APIResponse: status.RawResponse,
		Now:         s.now(),
	}
	if newStatus == domain.StatusDelivered {
		deliveredAt := s.now()
		update.DeliveredAt = &deliveredAt
	}

	if _, _, err := s.Store.UpdateNotificationStatus(ctx, update); err != nil {
		slog.Error("confirmation status update failed", "notification_id", n.ID, "err", err)
		return
	}
	observability.Confirmations.WithLabelValues(string(newStatus)).Inc()

	if newStatus == domain.StatusDelivered {
		name := "Unknown"
		if n.Participant != nil {
			name = n.Participant.FullName
		}
		s.logEvent(ctx, store.EventLogInsert{
			ParticipantID:  n.ParticipantID,
			StaffGroupID:   n.StaffGroupID,
			NotificationID: n.ID,
			Action:         domain.ActionSMSDelivered,
			Details:        "SMS delivered to " + name,
			Result:         domain.ResultSuccess,
		})
	}
}

func (s *Scheduler) logEvent(ctx context.Context, in store.EventLogInsert) {
	in.ID = s.newID("evt")
	in.Now = s.now()
	if err := s.Store.InsertEventLog(ctx, in); err != nil {
		slog.Error("event log insert failed", "action", in.Action, "notification_id", in.NotificationID, "err", err)
	}
}

func (s *Scheduler) newID(prefix string) string {
	if s.IDGen != nil {
		return s.IDGen(prefix)
	}
	return util.NewID(prefix)
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return util.NowUTC()
}
