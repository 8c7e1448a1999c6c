package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"staffnotify/internal/domain"
	"staffnotify/internal/providers/smsprosto"
	"staffnotify/internal/store"
	"staffnotify/internal/util"
)

type Dispatcher interface {
	SendBatch(ctx context.Context, req domain.SendBatchRequest) (domain.SendBatchResult, error)
}

type Provider interface {
	CheckStatus(ctx context.Context, smsID string) smsprosto.StatusOutcome
	Balance(ctx context.Context) smsprosto.BalanceOutcome
}

// Store is the persistence surface the HTTP layer reads and writes. The pg
// store satisfies it.
type Store interface {
	GetNotification(ctx context.Context, id string) (store.Notification, bool, error)
	UpdateNotificationStatus(ctx context.Context, in store.NotificationStatusUpdate) (store.Notification, bool, error)
	ListNotifications(ctx context.Context, limit int) ([]store.NotificationWithDetails, error)
	ListNotificationsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.NotificationWithDetails, error)
	DeleteNotificationsByStatus(ctx context.Context, status, staffGroupID string) (int64, error)
	InsertEventLog(ctx context.Context, in store.EventLogInsert) error
	ListEventLogs(ctx context.Context, limit int) ([]store.EventLogWithDetails, error)
	ListEventLogsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.EventLogWithDetails, error)
	GetStats(ctx context.Context) (store.Stats, error)
	GetGroupStats(ctx context.Context, staffGroupID string) (store.GroupStats, error)

	GetParticipant(ctx context.Context, id string) (store.Participant, bool, error)
	ListParticipants(ctx context.Context) ([]store.Participant, error)
	ListParticipantsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.Participant, error)
	InsertParticipant(ctx context.Context, in store.ParticipantInsert) (store.Participant, error)
	InsertParticipants(ctx context.Context, ins []store.ParticipantInsert) ([]store.Participant, error)
	UpdateParticipant(ctx context.Context, id string, in store.ParticipantUpdate) (store.Participant, bool, error)
	DeleteParticipant(ctx context.Context, id string) (bool, error)

	ListStaffGroups(ctx context.Context) ([]store.StaffGroupWithParticipants, error)
	GetStaffGroup(ctx context.Context, id string) (store.StaffGroupWithParticipants, bool, error)
	InsertStaffGroup(ctx context.Context, in store.StaffGroupInsert) (store.StaffGroup, error)
	UpdateStaffGroup(ctx context.Context, id string, in store.StaffGroupUpdate) (store.StaffGroup, bool, error)
	DeleteStaffGroup(ctx context.Context, id string) (bool, error)

	ListMessageTemplates(ctx context.Context) ([]store.MessageTemplate, error)
	ListMessageTemplatesByStaffGroup(ctx context.Context, staffGroupID string) ([]store.MessageTemplate, error)
	InsertMessageTemplate(ctx context.Context, in store.MessageTemplateInsert) (store.MessageTemplate, error)
	UpdateMessageTemplate(ctx context.Context, id string, in store.MessageTemplateUpdate) (store.MessageTemplate, bool, error)
	DeleteMessageTemplate(ctx context.Context, id string) (bool, error)
}

type API struct {
	Dispatcher Dispatcher
	Store      Store
	Provider   Provider

	// Overridable for tests; defaults to util.NewID / util.NowUTC.
	IDGen func(prefix string) string
	Clock func() time.Time
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/notifications/send", a.handleSendBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications/reset", a.handleResetNotifications).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications/{id}/check-status", a.handleCheckStatus).Methods(http.MethodPost)
	r.HandleFunc("/api/notifications", a.handleListNotifications).Methods(http.MethodGet)
	r.HandleFunc("/api/balance", a.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/event-logs", a.handleListEventLogs).Methods(http.MethodGet)

	a.registerDirectory(r)
}

func (a *API) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.SendBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	result, err := a.Dispatcher.SendBatch(r.Context(), req)
	if err != nil {
		// Validation failure: nothing was written.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	notification, found, err := a.Store.GetNotification(r.Context(), id)
	if err != nil {
		slog.Error("get notification failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	if notification.SmsID == "" {
		http.Error(w, ErrNoSmsID, http.StatusBadRequest)
		return
	}

	status := a.Provider.CheckStatus(r.Context(), notification.SmsID)
	if !status.Success || status.Status == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": status.Error})
		return
	}

	newStatus := smsprosto.MapStatus(status.Status)
	update := store.NotificationStatusUpdate{
		ID:          notification.ID,
		Status:      string(newStatus),
		APIResponse: status.RawResponse,
		Now:         a.now(),
	}
	if newStatus == domain.StatusDelivered {
		deliveredAt := a.now()
		update.DeliveredAt = &deliveredAt
	}

	updated, _, err := a.Store.UpdateNotificationStatus(r.Context(), update)
	if err != nil {
		slog.Error("check-status update failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"status":       string(newStatus),
		"notification": updated,
	})
}

func (a *API) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	var (
		notifications []store.NotificationWithDetails
		err           error
	)
	if staffGroupID := r.URL.Query().Get("staffGroupId"); staffGroupID != "" {
		notifications, err = a.Store.ListNotificationsByStaffGroup(r.Context(), staffGroupID)
	} else {
		notifications, err = a.Store.ListNotifications(r.Context(), 100)
	}
	if err != nil {
		slog.Error("list notifications failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSONList(w, notifications)
}

func (a *API) handleResetNotifications(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status       string `json:"status"`
		StaffGroupID string `json:"staffGroupId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	deleted, err := a.Store.DeleteNotificationsByStatus(r.Context(), req.Status, req.StaffGroupID)
	if err != nil {
		slog.Error("reset notifications failed", "err", err, "status", req.Status)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	result := a.Provider.Balance(r.Context())
	if !result.Success {
		slog.Error("balance check failed", "err", result.Error)
		http.Error(w, result.Error, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": result.Balance})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Store.GetStats(r.Context())
	if err != nil {
		slog.Error("stats failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleListEventLogs(w http.ResponseWriter, r *http.Request) {
	if staffGroupID := r.URL.Query().Get("staffGroupId"); staffGroupID != "" {
		logs, err := a.Store.ListEventLogsByStaffGroup(r.Context(), staffGroupID)
		if err != nil {
			slog.Error("list event logs failed", "err", err)
			http.Error(w, ErrDependency, http.StatusBadGateway)
			return
		}
		writeJSONList(w, logs)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := a.Store.ListEventLogs(r.Context(), limit)
	if err != nil {
		slog.Error("list event logs failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSONList(w, logs)
}

func (a *API) logEvent(ctx context.Context, in store.EventLogInsert) {
	in.ID = a.newID("evt")
	in.Now = a.now()
	if err := a.Store.InsertEventLog(ctx, in); err != nil {
		slog.Error("event log insert failed", "action", in.Action, "err", err)
	}
}

func (a *API) newID(prefix string) string {
	if a.IDGen != nil {
		return a.IDGen(prefix)
	}
	return util.NewID(prefix)
}

func (a *API) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return util.NowUTC()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONList never renders null for an empty result set.
func writeJSONList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}
