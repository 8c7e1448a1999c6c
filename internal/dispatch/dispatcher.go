// Dispatch engine: turns one validated batch request into per-recipient
// notification rows, provider calls and audit entries. Recipients are fully
// isolated from each other; a failed send or a missing participant never
// aborts the rest of the batch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"staffnotify/internal/domain"
	"staffnotify/internal/observability"
	"staffnotify/internal/providers/smsprosto"
	"staffnotify/internal/store"
	"staffnotify/internal/util"
)

type Store interface {
	GetParticipant(ctx context.Context, id string) (store.Participant, bool, error)
	InsertNotification(ctx context.Context, in store.NotificationInsert) (store.Notification, error)
	UpdateNotificationStatus(ctx context.Context, in store.NotificationStatusUpdate) (store.Notification, bool, error)
	InsertEventLog(ctx context.Context, in store.EventLogInsert) error
}

type Sender interface {
	Send(ctx context.Context, phone, text string) smsprosto.SendOutcome
}

type Dispatcher struct {
	Store   Store
	Sender  Sender
	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	// Overridable for tests; defaults to util.NewID / util.NowUTC.
	IDGen func(prefix string) string
	Clock func() time.Time
}

const errParticipantNotFound = "Participant not found"

// SendBatch processes each recipient independently and aggregates the
// per-recipient outcomes. A returned error means the request itself was
// invalid and nothing was written.
func (d *Dispatcher) SendBatch(ctx context.Context, req domain.SendBatchRequest) (domain.SendBatchResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SendBatchResult{}, err
	}

	now := d.now()
	scheduled := req.Scheduled(now)

	results := make([]domain.SendItemResult, 0, len(req.ParticipantIDs))
	for _, participantID := range req.ParticipantIDs {
		results = append(results, d.dispatchOne(ctx, req, participantID, scheduled))
	}

	res := domain.SendBatchResult{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			res.SuccessCount++
		} else {
			res.FailCount++
		}
	}
	res.Success = res.FailCount == 0
	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, req domain.SendBatchRequest, participantID string, scheduled bool) domain.SendItemResult {
	participant, found, err := d.Store.GetParticipant(ctx, participantID)
	if err != nil {
		observability.Dispatches.WithLabelValues("failed").Inc()
		return domain.SendItemResult{ParticipantID: participantID, Error: err.Error()}
	}
	if !found {
		observability.Dispatches.WithLabelValues("failed").Inc()
		return domain.SendItemResult{ParticipantID: participantID, Error: errParticipantNotFound}
	}

	groupID := req.StaffGroupID
	if groupID == "" {
		groupID = participant.StaffGroupID
	}

	status := domain.StatusPending
	var scheduledAt *time.Time
	if scheduled {
		status = domain.StatusScheduled
		scheduledAt = req.ScheduledAt
	}

	notification, err := d.Store.InsertNotification(ctx, store.NotificationInsert{
		ID:            d.newID("ntf"),
		ParticipantID: participantID,
		StaffGroupID:  groupID,
		Message:       req.Message,
		Status:        string(status),
		ScheduledAt:   scheduledAt,
		Now:           d.now(),
	})
	if err != nil {
		observability.Dispatches.WithLabelValues("failed").Inc()
		return domain.SendItemResult{ParticipantID: participantID, Error: err.Error()}
	}

	if scheduled {
		d.logEvent(ctx, store.EventLogInsert{
			ParticipantID:  participantID,
			StaffGroupID:   groupID,
			NotificationID: notification.ID,
			Action:         domain.ActionSMSScheduled,
			Details: fmt.Sprintf("SMS scheduled for %s (%s) at %s",
				participant.FullName, participant.Phone, req.ScheduledAt.Format(time.RFC3339)),
			Result: domain.ResultSuccess,
		})
		observability.Dispatches.WithLabelValues("scheduled").Inc()
		return domain.SendItemResult{ParticipantID: participantID, Success: true, Scheduled: true}
	}

	outcome := d.send(ctx, participant.Phone, req.Message)
	if outcome.Success {
		sentAt := d.now()
		// The SMS is already out; a persist failure here leaves the row in
		// pending, which the reconciliation timers never revisit. Loud log so
		// an operator can repair it.
		if _, _, err := d.Store.UpdateNotificationStatus(ctx, store.NotificationStatusUpdate{
			ID:          notification.ID,
			Status:      string(domain.StatusSending),
			SentAt:      &sentAt,
			SmsID:       outcome.SmsID,
			APIResponse: outcome.RawResponse,
			Now:         sentAt,
		}); err != nil {
			slog.Error("dispatch status update failed", "notification_id", notification.ID, "status", domain.StatusSending, "err", err)
		}
		d.logEvent(ctx, store.EventLogInsert{
			ParticipantID:  participantID,
			StaffGroupID:   groupID,
			NotificationID: notification.ID,
			Action:         domain.ActionSMSSent,
			Details: fmt.Sprintf("SMS отправлено: %s (%s) - %s",
				participant.FullName, participant.Phone, smsprosto.DescribeError("0")),
			Result:      domain.ResultSuccess,
			APIRequest:  outcome.RawRequest,
			APIResponse: outcome.RawResponse,
		})
		observability.Dispatches.WithLabelValues("sent").Inc()
		return domain.SendItemResult{ParticipantID: participantID, Success: true, SmsID: outcome.SmsID}
	}

	errorDesc := failureText(outcome)
	if _, _, err := d.Store.UpdateNotificationStatus(ctx, store.NotificationStatusUpdate{
		ID:           notification.ID,
		Status:       string(domain.StatusError),
		ErrorMessage: errorDesc,
		APIResponse:  outcome.RawResponse,
		Now:          d.now(),
	}); err != nil {
		slog.Error("dispatch status update failed", "notification_id", notification.ID, "status", domain.StatusError, "err", err)
	}
	d.logEvent(ctx, store.EventLogInsert{
		ParticipantID:  participantID,
		StaffGroupID:   groupID,
		NotificationID: notification.ID,
		Action:         domain.ActionSMSSendFailed,
		Details:        errorDesc,
		Result:         domain.ResultError,
		ErrorMessage:   errorDesc,
		APIRequest:     outcome.RawRequest,
		APIResponse:    outcome.RawResponse,
	})
	observability.Dispatches.WithLabelValues("failed").Inc()
	return domain.SendItemResult{ParticipantID: participantID, Error: errorDesc}
}

// send wraps the provider call with the local rate limiter and the circuit
// breaker. Only transport-level failures count against the breaker; a
// provider-reported rejection is a definitive answer, not a gateway outage.
func (d *Dispatcher) send(ctx context.Context, phone, text string) smsprosto.SendOutcome {
	if d.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := d.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.ProviderCalls.WithLabelValues("push_msg", "rate_limited_local").Inc()
			return smsprosto.SendOutcome{Error: "local rate limit: " + err.Error()}
		}
	}

	start := time.Now()
	call := func() (any, error) {
		out := d.Sender.Send(ctx, phone, text)
		if !out.Success && out.ErrCode == "" {
			return out, errors.New(out.Error)
		}
		return out, nil
	}

	var outcome smsprosto.SendOutcome
	if d.Breaker == nil {
		res, _ := call()
		outcome = res.(smsprosto.SendOutcome)
	} else {
		res, err := d.Breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.ProviderCalls.WithLabelValues("push_msg", "cb_open").Inc()
			return smsprosto.SendOutcome{Error: "sms gateway unavailable: " + err.Error()}
		}
		outcome = res.(smsprosto.SendOutcome)
	}

	observability.ProviderLatency.Observe(time.Since(start).Seconds())
	if outcome.Success {
		observability.ProviderCalls.WithLabelValues("push_msg", "ok").Inc()
	} else {
		observability.ProviderCalls.WithLabelValues("push_msg", "error").Inc()
	}
	return outcome
}

func (d *Dispatcher) logEvent(ctx context.Context, in store.EventLogInsert) {
	in.ID = d.newID("evt")
	in.Now = d.now()
	if err := d.Store.InsertEventLog(ctx, in); err != nil {
		slog.Error("event log insert failed", "action", in.Action, "notification_id", in.NotificationID, "err", err)
	}
}

// failureText prefers the operator-facing description of a provider error
// code; transport failures keep the raw transport message.
func failureText(out smsprosto.SendOutcome) string {
	if out.ErrCode != "" {
		return smsprosto.DescribeError(out.ErrCode)
	}
	if out.Error != "" {
		return out.Error
	}
	return "Неизвестная ошибка"
}

func (d *Dispatcher) newID(prefix string) string {
	if d.IDGen != nil {
		return d.IDGen(prefix)
	}
	return util.NewID(prefix)
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return util.NowUTC()
}
