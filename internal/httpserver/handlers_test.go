package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"staffnotify/internal/domain"
	"staffnotify/internal/providers/smsprosto"
	"staffnotify/internal/store"
)

type memStore struct {
	notifications map[string]store.Notification
	participants  map[string]store.Participant
	groups        map[string]store.StaffGroup
	templates     map[string]store.MessageTemplate
	events        []store.EventLogInsert
	deleted       int64
}

func newMemStore() *memStore {
	return &memStore{
		notifications: make(map[string]store.Notification),
		participants:  make(map[string]store.Participant),
		groups:        make(map[string]store.StaffGroup),
		templates:     make(map[string]store.MessageTemplate),
	}
}

func (m *memStore) GetNotification(ctx context.Context, id string) (store.Notification, bool, error) {
	n, ok := m.notifications[id]
	return n, ok, nil
}

func (m *memStore) UpdateNotificationStatus(ctx context.Context, in store.NotificationStatusUpdate) (store.Notification, bool, error) {
	n, ok := m.notifications[in.ID]
	if !ok {
		return store.Notification{}, false, nil
	}
	n.Status = in.Status
	if in.DeliveredAt != nil {
		n.DeliveredAt = in.DeliveredAt
	}
	if in.APIResponse != "" {
		n.APIResponse = in.APIResponse
	}
	m.notifications[in.ID] = n
	return n, true, nil
}

func (m *memStore) ListNotifications(ctx context.Context, limit int) ([]store.NotificationWithDetails, error) {
	out := []store.NotificationWithDetails{}
	for _, n := range m.notifications {
		out = append(out, store.NotificationWithDetails{Notification: n})
	}
	return out, nil
}

func (m *memStore) ListNotificationsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.NotificationWithDetails, error) {
	out := []store.NotificationWithDetails{}
	for _, n := range m.notifications {
		if n.StaffGroupID == staffGroupID {
			out = append(out, store.NotificationWithDetails{Notification: n})
		}
	}
	return out, nil
}

func (m *memStore) DeleteNotificationsByStatus(ctx context.Context, status, staffGroupID string) (int64, error) {
	var n int64
	for id, row := range m.notifications {
		if row.Status != status {
			continue
		}
		if staffGroupID != "" && row.StaffGroupID != staffGroupID {
			continue
		}
		delete(m.notifications, id)
		n++
	}
	m.deleted = n
	return n, nil
}

func (m *memStore) InsertEventLog(ctx context.Context, in store.EventLogInsert) error {
	m.events = append(m.events, in)
	return nil
}

func (m *memStore) ListEventLogs(ctx context.Context, limit int) ([]store.EventLogWithDetails, error) {
	return []store.EventLogWithDetails{}, nil
}

func (m *memStore) ListEventLogsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.EventLogWithDetails, error) {
	return []store.EventLogWithDetails{}, nil
}

func (m *memStore) GetStats(ctx context.Context) (store.Stats, error) {
	return store.Stats{TotalStaffGroups: len(m.groups), TotalParticipants: len(m.participants)}, nil
}

func (m *memStore) GetGroupStats(ctx context.Context, staffGroupID string) (store.GroupStats, error) {
	return store.GroupStats{}, nil
}

func (m *memStore) GetParticipant(ctx context.Context, id string) (store.Participant, bool, error) {
	p, ok := m.participants[id]
	return p, ok, nil
}

func (m *memStore) ListParticipants(ctx context.Context) ([]store.Participant, error) {
	out := []store.Participant{}
	for _, p := range m.participants {
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) ListParticipantsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.Participant, error) {
	out := []store.Participant{}
	for _, p := range m.participants {
		if p.StaffGroupID == staffGroupID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) InsertParticipant(ctx context.Context, in store.ParticipantInsert) (store.Participant, error) {
	p := store.Participant{
		ID: in.ID, FullName: in.FullName, Phone: in.Phone,
		Position: in.Position, StaffGroupID: in.StaffGroupID,
		CreatedAt: in.Now, UpdatedAt: in.Now,
	}
	m.participants[p.ID] = p
	return p, nil
}

func (m *memStore) InsertParticipants(ctx context.Context, ins []store.ParticipantInsert) ([]store.Participant, error) {
	out := make([]store.Participant, 0, len(ins))
	for _, in := range ins {
		p, _ := m.InsertParticipant(ctx, in)
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) UpdateParticipant(ctx context.Context, id string, in store.ParticipantUpdate) (store.Participant, bool, error) {
	p, ok := m.participants[id]
	if !ok {
		return store.Participant{}, false, nil
	}
	if in.FullName != nil {
		p.FullName = *in.FullName
	}
	if in.Phone != nil {
		p.Phone = *in.Phone
	}
	if in.Position != nil {
		p.Position = *in.Position
	}
	if in.StaffGroupID != nil {
		p.StaffGroupID = *in.StaffGroupID
	}
	m.participants[id] = p
	return p, true, nil
}

func (m *memStore) DeleteParticipant(ctx context.Context, id string) (bool, error) {
	_, ok := m.participants[id]
	delete(m.participants, id)
	return ok, nil
}

func (m *memStore) ListStaffGroups(ctx context.Context) ([]store.StaffGroupWithParticipants, error) {
	out := []store.StaffGroupWithParticipants{}
	for _, g := range m.groups {
		out = append(out, store.StaffGroupWithParticipants{StaffGroup: g, Participants: []store.Participant{}})
	}
	return out, nil
}

func (m *memStore) GetStaffGroup(ctx context.Context, id string) (store.StaffGroupWithParticipants, bool, error) {
	g, ok := m.groups[id]
	if !ok {
		return store.StaffGroupWithParticipants{}, false, nil
	}
	return store.StaffGroupWithParticipants{StaffGroup: g, Participants: []store.Participant{}}, true, nil
}

func (m *memStore) InsertStaffGroup(ctx context.Context, in store.StaffGroupInsert) (store.StaffGroup, error) {
	g := store.StaffGroup{ID: in.ID, Name: in.Name, Description: in.Description, CreatedAt: in.Now, UpdatedAt: in.Now}
	m.groups[g.ID] = g
	return g, nil
}

func (m *memStore) UpdateStaffGroup(ctx context.Context, id string, in store.StaffGroupUpdate) (store.StaffGroup, bool, error) {
	g, ok := m.groups[id]
	if !ok {
		return store.StaffGroup{}, false, nil
	}
	if in.Name != nil {
		g.Name = *in.Name
	}
	if in.Description != nil {
		g.Description = *in.Description
	}
	m.groups[id] = g
	return g, true, nil
}

func (m *memStore) DeleteStaffGroup(ctx context.Context, id string) (bool, error) {
	_, ok := m.groups[id]
	delete(m.groups, id)
	return ok, nil
}

func (m *memStore) ListMessageTemplates(ctx context.Context) ([]store.MessageTemplate, error) {
	out := []store.MessageTemplate{}
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) ListMessageTemplatesByStaffGroup(ctx context.Context, staffGroupID string) ([]store.MessageTemplate, error) {
	out := []store.MessageTemplate{}
	for _, t := range m.templates {
		if t.StaffGroupID == staffGroupID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) InsertMessageTemplate(ctx context.Context, in store.MessageTemplateInsert) (store.MessageTemplate, error) {
	t := store.MessageTemplate{ID: in.ID, Name: in.Name, Content: in.Content, StaffGroupID: in.StaffGroupID, CreatedAt: in.Now, UpdatedAt: in.Now}
	m.templates[t.ID] = t
	return t, nil
}

func (m *memStore) UpdateMessageTemplate(ctx context.Context, id string, in store.MessageTemplateUpdate) (store.MessageTemplate, bool, error) {
	t, ok := m.templates[id]
	if !ok {
		return store.MessageTemplate{}, false, nil
	}
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.Content != nil {
		t.Content = *in.Content
	}
	m.templates[id] = t
	return t, true, nil
}

func (m *memStore) DeleteMessageTemplate(ctx context.Context, id string) (bool, error) {
	_, ok := m.templates[id]
	delete(m.templates, id)
	return ok, nil
}

type fakeDispatcher struct {
	result domain.SendBatchResult
	err    error
	got    domain.SendBatchRequest
}

func (f *fakeDispatcher) SendBatch(ctx context.Context, req domain.SendBatchRequest) (domain.SendBatchResult, error) {
	f.got = req
	return f.result, f.err
}

type fakeProvider struct {
	status  smsprosto.StatusOutcome
	balance smsprosto.BalanceOutcome
}

func (f *fakeProvider) CheckStatus(ctx context.Context, smsID string) smsprosto.StatusOutcome {
	return f.status
}

func (f *fakeProvider) Balance(ctx context.Context) smsprosto.BalanceOutcome {
	return f.balance
}

func newTestAPI(ms *memStore, d Dispatcher, p Provider) (*API, *mux.Router) {
	seq := 0
	api := &API{
		Dispatcher: d,
		Store:      ms,
		Provider:   p,
		IDGen: func(prefix string) string {
			seq++
			return prefix + "_" + string(rune('a'+seq-1))
		},
		Clock: func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	r := mux.NewRouter()
	api.Register(r)
	return api, r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSendBatchEndpoint(t *testing.T) {
	ms := newMemStore()
	fd := &fakeDispatcher{result: domain.SendBatchResult{Success: true, Total: 1, SuccessCount: 1}}
	_, r := newTestAPI(ms, fd, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPost, "/api/notifications/send",
		`{"participantIds":["prt_1"],"message":"msg"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fd.got.ParticipantIDs) != 1 || fd.got.Message != "msg" {
		t.Fatalf("request not forwarded, got %+v", fd.got)
	}

	var res domain.SendBatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Total != 1 {
		t.Fatalf("unexpected body %+v", res)
	}
}

func TestSendBatchEndpointValidation(t *testing.T) {
	ms := newMemStore()
	fd := &fakeDispatcher{err: domain.ErrNoParticipants}
	_, r := newTestAPI(ms, fd, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPost, "/api/notifications/send", `{"message":"msg"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no participants selected") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/api/notifications/send", `{bad json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestCheckStatusEndpoint(t *testing.T) {
	ms := newMemStore()
	ms.notifications["ntf_1"] = store.Notification{ID: "ntf_1", Status: "sending", SmsID: "sms-1"}
	ms.notifications["ntf_2"] = store.Notification{ID: "ntf_2", Status: "pending"}

	fp := &fakeProvider{status: smsprosto.StatusOutcome{Success: true, Status: "delivered", RawResponse: `{"s":1}`}}
	_, r := newTestAPI(ms, &fakeDispatcher{}, fp)

	rec := doJSON(t, r, http.MethodPost, "/api/notifications/ntf_missing/check-status", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/notifications/ntf_2/check-status", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for row without sms id, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/notifications/ntf_1/check-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Status != "delivered" {
		t.Fatalf("unexpected body %+v", body)
	}
	if ms.notifications["ntf_1"].DeliveredAt == nil {
		t.Fatal("expected deliveredAt on the row")
	}
}

func TestCheckStatusProviderFailure(t *testing.T) {
	ms := newMemStore()
	ms.notifications["ntf_1"] = store.Notification{ID: "ntf_1", Status: "sending", SmsID: "sms-1"}

	fp := &fakeProvider{status: smsprosto.StatusOutcome{Error: "timeout"}}
	_, r := newTestAPI(ms, &fakeDispatcher{}, fp)

	rec := doJSON(t, r, http.MethodPost, "/api/notifications/ntf_1/check-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error != "timeout" {
		t.Fatalf("unexpected body %+v", body)
	}
	if ms.notifications["ntf_1"].Status != "sending" {
		t.Fatal("failed poll must not change the row")
	}
}

func TestListNotificationsEmptyIsArray(t *testing.T) {
	ms := newMemStore()
	_, r := newTestAPI(ms, &fakeDispatcher{}, &fakeProvider{})

	rec := doJSON(t, r, http.MethodGet, "/api/notifications", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}
}

func TestResetNotifications(t *testing.T) {
	ms := newMemStore()
	ms.notifications["ntf_1"] = store.Notification{ID: "ntf_1", Status: "error"}
	ms.notifications["ntf_2"] = store.Notification{ID: "ntf_2", Status: "delivered"}
	_, r := newTestAPI(ms, &fakeDispatcher{}, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPost, "/api/notifications/reset", `{"status":"error"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", body.Deleted)
	}
	if _, ok := ms.notifications["ntf_2"]; !ok {
		t.Fatal("other statuses must survive a reset")
	}

	rec = doJSON(t, r, http.MethodPost, "/api/notifications/reset", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without status, got %d", rec.Code)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	ms := newMemStore()
	fp := &fakeProvider{balance: smsprosto.BalanceOutcome{Success: true, Balance: 1500.5}}
	_, r := newTestAPI(ms, &fakeDispatcher{}, fp)

	rec := doJSON(t, r, http.MethodGet, "/api/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Balance != 1500.5 {
		t.Fatalf("unexpected balance %v", body.Balance)
	}

	fp.balance = smsprosto.BalanceOutcome{Error: "gateway down"}
	rec = doJSON(t, r, http.MethodGet, "/api/balance", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestStaffGroupLifecycle(t *testing.T) {
	ms := newMemStore()
	_, r := newTestAPI(ms, &fakeDispatcher{}, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPost, "/api/staff-groups", `{"description":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/staff-groups", `{"name":"Оперативный штаб"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created store.StaffGroup
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Name != "Оперативный штаб" || !strings.HasPrefix(created.ID, "grp_") {
		t.Fatalf("unexpected group %+v", created)
	}
	if len(ms.events) != 1 || ms.events[0].Action != domain.ActionStaffGroupCreated {
		t.Fatalf("expected staff_group_created event, got %+v", ms.events)
	}

	rec = doJSON(t, r, http.MethodPatch, "/api/staff-groups/"+created.ID, `{"name":"Новый штаб"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ms.groups[created.ID].Name != "Новый штаб" {
		t.Fatalf("rename not applied: %+v", ms.groups[created.ID])
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/staff-groups/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(ms.groups) != 0 {
		t.Fatal("group not deleted")
	}
	if last := ms.events[len(ms.events)-1]; last.Action != domain.ActionStaffGroupDeleted {
		t.Fatalf("expected staff_group_deleted event, got %q", last.Action)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/staff-groups/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a second delete, got %d", rec.Code)
	}
}

func TestParticipantBulkImport(t *testing.T) {
	ms := newMemStore()
	_, r := newTestAPI(ms, &fakeDispatcher{}, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPost, "/api/participants/bulk", `{
		"staffGroupId": "grp_1",
		"participants": [
			{"fullName":"Иванов Иван","phone":"79161234567"},
			{"name":"Петров Пётр","phone":"79167654321","position":"Диспетчер"},
			{"fullName":"","phone":"79160000000"}
		]
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created []store.Participant
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The nameless row is skipped, not fatal.
	if len(created) != 2 {
		t.Fatalf("expected 2 imported, got %d", len(created))
	}
	for _, p := range created {
		if p.StaffGroupID != "grp_1" {
			t.Fatalf("expected group assignment, got %+v", p)
		}
	}
	if len(ms.events) != 1 || ms.events[0].Action != domain.ActionParticipantsImport {
		t.Fatalf("expected participants_imported event, got %+v", ms.events)
	}
	if !strings.Contains(ms.events[0].Details, "2 participants") {
		t.Fatalf("expected imported count in details, got %q", ms.events[0].Details)
	}
}

func TestParticipantPatchPartial(t *testing.T) {
	ms := newMemStore()
	ms.participants["prt_1"] = store.Participant{ID: "prt_1", FullName: "Иванов Иван", Phone: "79161234567", Position: "Инженер"}
	_, r := newTestAPI(ms, &fakeDispatcher{}, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPatch, "/api/participants/prt_1", `{"phone":"79160000000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := ms.participants["prt_1"]
	if p.Phone != "79160000000" {
		t.Fatalf("phone not updated: %+v", p)
	}
	if p.FullName != "Иванов Иван" || p.Position != "Инженер" {
		t.Fatalf("untouched fields must survive a partial update: %+v", p)
	}
}

func TestTemplateCRUDWithoutAudit(t *testing.T) {
	ms := newMemStore()
	_, r := newTestAPI(ms, &fakeDispatcher{}, &fakeProvider{})

	rec := doJSON(t, r, http.MethodPost, "/api/message-templates", `{"name":"Сбор","content":"Явка к 08:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var tpl store.MessageTemplate
	if err := json.Unmarshal(rec.Body.Bytes(), &tpl); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/message-templates/"+tpl.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/message-templates/"+tpl.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(ms.events) != 0 {
		t.Fatal("template operations write no audit entries")
	}
}
