package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"staffnotify/internal/domain"
	"staffnotify/internal/providers/smsprosto"
	"staffnotify/internal/store"
)

type fakeStore struct {
	participants  map[string]store.Participant
	notifications map[string]store.Notification
	events        []store.EventLogInsert
	updateErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants:  make(map[string]store.Participant),
		notifications: make(map[string]store.Notification),
	}
}

func (fs *fakeStore) ListDueScheduled(ctx context.Context, now time.Time) ([]store.Notification, error) {
	var due []store.Notification
	for _, n := range fs.notifications {
		if n.Status == string(domain.StatusScheduled) && n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			due = append(due, n)
		}
	}
	return due, nil
}

func (fs *fakeStore) ListAwaitingConfirmation(ctx context.Context) ([]store.NotificationWithDetails, error) {
	var out []store.NotificationWithDetails
	for _, n := range fs.notifications {
		if n.Status != string(domain.StatusSending) || n.SmsID == "" {
			continue
		}
		d := store.NotificationWithDetails{Notification: n}
		if p, ok := fs.participants[n.ParticipantID]; ok {
			d.Participant = &p
		}
		out = append(out, d)
	}
	return out, nil
}

func (fs *fakeStore) GetParticipant(ctx context.Context, id string) (store.Participant, bool, error) {
	p, ok := fs.participants[id]
	return p, ok, nil
}

func (fs *fakeStore) UpdateNotificationStatus(ctx context.Context, in store.NotificationStatusUpdate) (store.Notification, bool, error) {
	if fs.updateErr != nil {
		return store.Notification{}, false, fs.updateErr
	}
	n, ok := fs.notifications[in.ID]
	if !ok {
		return store.Notification{}, false, nil
	}
	n.Status = in.Status
	if in.SentAt != nil {
		n.SentAt = in.SentAt
	}
	if in.DeliveredAt != nil {
		n.DeliveredAt = in.DeliveredAt
	}
	if in.SmsID != "" {
		n.SmsID = in.SmsID
	}
	if in.ErrorMessage != "" {
		n.ErrorMessage = in.ErrorMessage
	}
	if in.APIResponse != "" {
		n.APIResponse = in.APIResponse
	}
	n.UpdatedAt = in.Now
	fs.notifications[in.ID] = n
	return n, true, nil
}

func (fs *fakeStore) InsertEventLog(ctx context.Context, in store.EventLogInsert) error {
	fs.events = append(fs.events, in)
	return nil
}

type fakeProvider struct {
	sendOutcome   smsprosto.SendOutcome
	statusOutcome smsprosto.StatusOutcome
	sendCalls     int
	statusCalls   []string
}

func (f *fakeProvider) Send(ctx context.Context, phone, text string) smsprosto.SendOutcome {
	f.sendCalls++
	return f.sendOutcome
}

func (f *fakeProvider) CheckStatus(ctx context.Context, smsID string) smsprosto.StatusOutcome {
	f.statusCalls = append(f.statusCalls, smsID)
	return f.statusOutcome
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(fs *fakeStore, p *fakeProvider) *Scheduler {
	seq := 0
	return &Scheduler{
		Store:    fs,
		Provider: p,
		IDGen: func(prefix string) string {
			seq++
			return prefix + "_" + string(rune('a'+seq-1))
		},
		Clock: func() time.Time { return testNow },
	}
}

func scheduledNotification(id string, at time.Time) store.Notification {
	return store.Notification{
		ID:            id,
		ParticipantID: "prt_1",
		StaffGroupID:  "grp_1",
		Message:       "msg",
		Status:        string(domain.StatusScheduled),
		ScheduledAt:   &at,
	}
}

func TestPromoteDueSuccess(t *testing.T) {
	fs := newFakeStore()
	fs.participants["prt_1"] = store.Participant{ID: "prt_1", FullName: "Иванов Иван", Phone: "79161234567"}
	fs.notifications["ntf_1"] = scheduledNotification("ntf_1", testNow.Add(-time.Minute))

	p := &fakeProvider{sendOutcome: smsprosto.SendOutcome{Success: true, SmsID: "sms-9", ErrCode: "0"}}
	s := newTestScheduler(fs, p)

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}

	n := fs.notifications["ntf_1"]
	if n.Status != string(domain.StatusSent) {
		t.Fatalf("expected sent, got %q", n.Status)
	}
	if n.SentAt == nil || n.SmsID != "sms-9" {
		t.Fatalf("expected sentAt and smsId, got %+v", n)
	}
	if len(fs.events) != 1 || fs.events[0].Action != domain.ActionSMSSent {
		t.Fatalf("expected one sms_sent event, got %d", len(fs.events))
	}
}

func TestPromoteSkipsNotYetDue(t *testing.T) {
	fs := newFakeStore()
	fs.participants["prt_1"] = store.Participant{ID: "prt_1", Phone: "79161234567"}
	fs.notifications["ntf_1"] = scheduledNotification("ntf_1", testNow.Add(time.Hour))

	p := &fakeProvider{sendOutcome: smsprosto.SendOutcome{Success: true, SmsID: "x"}}
	s := newTestScheduler(fs, p)

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}
	if p.sendCalls != 0 {
		t.Fatal("future notification must not be promoted")
	}
	if fs.notifications["ntf_1"].Status != string(domain.StatusScheduled) {
		t.Fatal("future notification must stay scheduled")
	}
}

func TestPromoteMissingParticipant(t *testing.T) {
	fs := newFakeStore()
	fs.notifications["ntf_1"] = scheduledNotification("ntf_1", testNow.Add(-time.Minute))

	p := &fakeProvider{}
	s := newTestScheduler(fs, p)

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}
	if p.sendCalls != 0 {
		t.Fatal("missing participant must not trigger a provider call")
	}
	n := fs.notifications["ntf_1"]
	if n.Status != string(domain.StatusError) || n.ErrorMessage != "Participant not found" {
		t.Fatalf("unexpected row %+v", n)
	}
	if len(fs.events) != 0 {
		t.Fatal("missing participant path writes no audit entry")
	}
}

func TestPromoteProviderFailure(t *testing.T) {
	fs := newFakeStore()
	fs.participants["prt_1"] = store.Participant{ID: "prt_1", FullName: "Иванов Иван", Phone: "79161234567"}
	fs.notifications["ntf_1"] = scheduledNotification("ntf_1", testNow.Add(-time.Minute))

	p := &fakeProvider{sendOutcome: smsprosto.SendOutcome{ErrCode: "623", Error: "Недостаточно средств"}}
	s := newTestScheduler(fs, p)

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("promoteDue: %v", err)
	}
	n := fs.notifications["ntf_1"]
	if n.Status != string(domain.StatusError) || n.ErrorMessage != "Недостаточно средств" {
		t.Fatalf("unexpected row %+v", n)
	}
	if len(fs.events) != 1 || fs.events[0].Action != domain.ActionSMSSendFailed {
		t.Fatalf("expected one sms_send_failed event, got %d", len(fs.events))
	}
}

func TestPromoteSecondTickIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.participants["prt_1"] = store.Participant{ID: "prt_1", Phone: "79161234567"}
	fs.notifications["ntf_1"] = scheduledNotification("ntf_1", testNow.Add(-time.Minute))

	p := &fakeProvider{sendOutcome: smsprosto.SendOutcome{Success: true, SmsID: "sms-1"}}
	s := newTestScheduler(fs, p)

	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := s.promoteDue(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if p.sendCalls != 1 {
		t.Fatalf("a promoted notification must not be sent twice, got %d calls", p.sendCalls)
	}
}

func TestConfirmDelivered(t *testing.T) {
	fs := newFakeStore()
	fs.participants["prt_1"] = store.Participant{ID: "prt_1", FullName: "Иванов Иван", Phone: "79161234567"}
	fs.notifications["ntf_1"] = store.Notification{
		ID: "ntf_1", ParticipantID: "prt_1", Status: string(domain.StatusSending), SmsID: "sms-1",
	}

	p := &fakeProvider{statusOutcome: smsprosto.StatusOutcome{Success: true, Status: "delivered", RawResponse: `{"s":1}`}}
	s := newTestScheduler(fs, p)

	if err := s.confirmInFlight(context.Background()); err != nil {
		t.Fatalf("confirmInFlight: %v", err)
	}
	n := fs.notifications["ntf_1"]
	if n.Status != string(domain.StatusDelivered) {
		t.Fatalf("expected delivered, got %q", n.Status)
	}
	if n.DeliveredAt == nil {
		t.Fatal("expected deliveredAt")
	}
	if len(fs.events) != 1 || fs.events[0].Action != domain.ActionSMSDelivered {
		t.Fatalf("expected one sms_delivered event, got %d", len(fs.events))
	}
}

func TestConfirmStillPendingNoWrite(t *testing.T) {
	fs := newFakeStore()
	fs.notifications["ntf_1"] = store.Notification{
		ID: "ntf_1", ParticipantID: "prt_1", Status: string(domain.StatusSending), SmsID: "sms-1",
	}

	// pending maps back to sending, same as the stored status.
	p := &fakeProvider{statusOutcome: smsprosto.StatusOutcome{Success: true, Status: "pending"}}
	s := newTestScheduler(fs, p)

	if err := s.confirmInFlight(context.Background()); err != nil {
		t.Fatalf("confirmInFlight: %v", err)
	}
	if fs.notifications["ntf_1"].Status != string(domain.StatusSending) {
		t.Fatal("unchanged status must not be rewritten")
	}
	if len(fs.events) != 0 {
		t.Fatal("no event for an unchanged status")
	}
}

func TestConfirmErrorWritesNoEvent(t *testing.T) {
	fs := newFakeStore()
	fs.notifications["ntf_1"] = store.Notification{
		ID: "ntf_1", ParticipantID: "prt_1", Status: string(domain.StatusSending), SmsID: "sms-1",
	}

	p := &fakeProvider{statusOutcome: smsprosto.StatusOutcome{Success: true, Status: "error"}}
	s := newTestScheduler(fs, p)

	if err := s.confirmInFlight(context.Background()); err != nil {
		t.Fatalf("confirmInFlight: %v", err)
	}
	if fs.notifications["ntf_1"].Status != string(domain.StatusError) {
		t.Fatal("expected error status")
	}
	if len(fs.events) != 0 {
		t.Fatal("only the delivered transition writes an audit entry")
	}
}

func TestConfirmSkipsRowsWithoutSmsID(t *testing.T) {
	fs := newFakeStore()
	fs.notifications["ntf_1"] = store.Notification{
		ID: "ntf_1", ParticipantID: "prt_1", Status: string(domain.StatusSending),
	}
	fs.notifications["ntf_2"] = store.Notification{
		ID: "ntf_2", ParticipantID: "prt_1", Status: string(domain.StatusSent), SmsID: "sms-2",
	}

	p := &fakeProvider{statusOutcome: smsprosto.StatusOutcome{Success: true, Status: "delivered"}}
	s := newTestScheduler(fs, p)

	if err := s.confirmInFlight(context.Background()); err != nil {
		t.Fatalf("confirmInFlight: %v", err)
	}
	if len(p.statusCalls) != 0 {
		t.Fatalf("neither row qualifies for polling, got calls %v", p.statusCalls)
	}
}

func TestConfirmProviderFailureLeavesRow(t *testing.T) {
	fs := newFakeStore()
	fs.notifications["ntf_1"] = store.Notification{
		ID: "ntf_1", ParticipantID: "prt_1", Status: string(domain.StatusSending), SmsID: "sms-1",
	}

	p := &fakeProvider{statusOutcome: smsprosto.StatusOutcome{Error: "timeout"}}
	s := newTestScheduler(fs, p)

	if err := s.confirmInFlight(context.Background()); err != nil {
		t.Fatalf("confirmInFlight: %v", err)
	}
	if fs.notifications["ntf_1"].Status != string(domain.StatusSending) {
		t.Fatal("a failed poll must leave the row for the next tick")
	}
}

func TestStartOnlyOnce(t *testing.T) {
	fs := newFakeStore()
	s := newTestScheduler(fs, &fakeProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}
