// Collaborator CRUD: staff groups, participants, message templates. These
// feed the dispatch engine with recipients and write audit entries alongside
// every mutation.
package httpserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"staffnotify/internal/domain"
	"staffnotify/internal/store"
)

func (a *API) registerDirectory(r *mux.Router) {
	r.HandleFunc("/api/staff-groups", a.handleListStaffGroups).Methods(http.MethodGet)
	r.HandleFunc("/api/staff-groups", a.handleCreateStaffGroup).Methods(http.MethodPost)
	r.HandleFunc("/api/staff-groups/{id}", a.handleGetStaffGroup).Methods(http.MethodGet)
	r.HandleFunc("/api/staff-groups/{id}", a.handleUpdateStaffGroup).Methods(http.MethodPatch)
	r.HandleFunc("/api/staff-groups/{id}", a.handleDeleteStaffGroup).Methods(http.MethodDelete)
	r.HandleFunc("/api/staff-groups/{id}/participants", a.handleGroupParticipants).Methods(http.MethodGet)
	r.HandleFunc("/api/staff-groups/{id}/stats", a.handleGroupStats).Methods(http.MethodGet)

	r.HandleFunc("/api/participants", a.handleListParticipants).Methods(http.MethodGet)
	r.HandleFunc("/api/participants", a.handleCreateParticipant).Methods(http.MethodPost)
	r.HandleFunc("/api/participants/bulk", a.handleBulkCreateParticipants).Methods(http.MethodPost)
	r.HandleFunc("/api/participants/{id}", a.handleGetParticipant).Methods(http.MethodGet)
	r.HandleFunc("/api/participants/{id}", a.handleUpdateParticipant).Methods(http.MethodPatch)
	r.HandleFunc("/api/participants/{id}", a.handleDeleteParticipant).Methods(http.MethodDelete)

	r.HandleFunc("/api/message-templates", a.handleListTemplates).Methods(http.MethodGet)
	r.HandleFunc("/api/message-templates", a.handleCreateTemplate).Methods(http.MethodPost)
	r.HandleFunc("/api/message-templates/{id}", a.handleUpdateTemplate).Methods(http.MethodPatch)
	r.HandleFunc("/api/message-templates/{id}", a.handleDeleteTemplate).Methods(http.MethodDelete)
}

// ===== Staff groups =====

type staffGroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (a *API) handleListStaffGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.Store.ListStaffGroups(r.Context())
	if err != nil {
		slog.Error("list staff groups failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSONList(w, groups)
}

func (a *API) handleGetStaffGroup(w http.ResponseWriter, r *http.Request) {
	group, found, err := a.Store.GetStaffGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		slog.Error("get staff group failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) handleCreateStaffGroup(w http.ResponseWriter, r *http.Request) {
	var req staffGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	in := store.StaffGroupInsert{ID: a.newID("grp"), Name: *req.Name, Now: a.now()}
	if req.Description != nil {
		in.Description = *req.Description
	}
	group, err := a.Store.InsertStaffGroup(r.Context(), in)
	if err != nil {
		slog.Error("create staff group failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	a.logEvent(r.Context(), store.EventLogInsert{
		StaffGroupID: group.ID,
		Action:       domain.ActionStaffGroupCreated,
		Details:      fmt.Sprintf("Staff group %q created", group.Name),
		Result:       domain.ResultSuccess,
	})
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) handleUpdateStaffGroup(w http.ResponseWriter, r *http.Request) {
	var req staffGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	group, found, err := a.Store.UpdateStaffGroup(r.Context(), mux.Vars(r)["id"], store.StaffGroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		Now:         a.now(),
	})
	if err != nil {
		slog.Error("update staff group failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}

	a.logEvent(r.Context(), store.EventLogInsert{
		StaffGroupID: group.ID,
		Action:       domain.ActionStaffGroupUpdated,
		Details:      fmt.Sprintf("Staff group %q updated", group.Name),
		Result:       domain.ResultSuccess,
	})
	writeJSON(w, http.StatusOK, group)
}

func (a *API) handleDeleteStaffGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	group, found, err := a.Store.GetStaffGroup(r.Context(), id)
	if err != nil {
		slog.Error("get staff group failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}

	if _, err := a.Store.DeleteStaffGroup(r.Context(), id); err != nil {
		slog.Error("delete staff group failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	// The group row is gone; the audit entry keeps only the name.
	a.logEvent(r.Context(), store.EventLogInsert{
		Action:  domain.ActionStaffGroupDeleted,
		Details: fmt.Sprintf("Staff group %q deleted", group.Name),
		Result:  domain.ResultSuccess,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleGroupParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := a.Store.ListParticipantsByStaffGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		slog.Error("list group participants failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSONList(w, participants)
}

func (a *API) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Store.GetGroupStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		slog.Error("group stats failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ===== Participants =====

type participantRequest struct {
	FullName     *string `json:"fullName"`
	Phone        *string `json:"phone"`
	Position     *string `json:"position"`
	StaffGroupID *string `json:"staffGroupId"`
}

func (a *API) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	var (
		participants []store.Participant
		err          error
	)
	if staffGroupID := r.URL.Query().Get("staffGroupId"); staffGroupID != "" {
		participants, err = a.Store.ListParticipantsByStaffGroup(r.Context(), staffGroupID)
	} else {
		participants, err = a.Store.ListParticipants(r.Context())
	}
	if err != nil {
		slog.Error("list participants failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSONList(w, participants)
}

func (a *API) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	participant, found, err := a.Store.GetParticipant(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		slog.Error("get participant failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, participant)
}

func (a *API) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.FullName == nil || strings.TrimSpace(*req.FullName) == "" || req.Phone == nil || strings.TrimSpace(*req.Phone) == "" {
		http.Error(w, "fullName and phone are required", http.StatusBadRequest)
		return
	}

	in := store.ParticipantInsert{
		ID:       a.newID("prt"),
		FullName: *req.FullName,
		Phone:    *req.Phone,
		Now:      a.now(),
	}
	if req.Position != nil {
		in.Position = *req.Position
	}
	if req.StaffGroupID != nil {
		in.StaffGroupID = *req.StaffGroupID
	}

	participant, err := a.Store.InsertParticipant(r.Context(), in)
	if err != nil {
		slog.Error("create participant failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	a.logEvent(r.Context(), store.EventLogInsert{
		ParticipantID: participant.ID,
		StaffGroupID:  participant.StaffGroupID,
		Action:        domain.ActionParticipantCreated,
		Details:       fmt.Sprintf("Participant %q added", participant.FullName),
		Result:        domain.ResultSuccess,
	})
	writeJSON(w, http.StatusCreated, participant)
}

func (a *API) handleBulkCreateParticipants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participants []struct {
			FullName string `json:"fullName"`
			Name     string `json:"name"`
			Phone    string `json:"phone"`
			Position string `json:"position"`
		} `json:"participants"`
		StaffGroupID string `json:"staffGroupId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Participants == nil {
		http.Error(w, "participants must be an array", http.StatusBadRequest)
		return
	}

	ins := make([]store.ParticipantInsert, 0, len(req.Participants))
	for _, p := range req.Participants {
		fullName := p.FullName
		if fullName == "" {
			fullName = p.Name
		}
		if fullName == "" || p.Phone == "" {
			continue
		}
		ins = append(ins, store.ParticipantInsert{
			ID:           a.newID("prt"),
			FullName:     fullName,
			Phone:        p.Phone,
			Position:     p.Position,
			StaffGroupID: req.StaffGroupID,
			Now:          a.now(),
		})
	}

	created, err := a.Store.InsertParticipants(r.Context(), ins)
	if err != nil {
		slog.Error("bulk create participants failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	a.logEvent(r.Context(), store.EventLogInsert{
		StaffGroupID: req.StaffGroupID,
		Action:       domain.ActionParticipantsImport,
		Details:      fmt.Sprintf("%d participants imported", len(created)),
		Result:       domain.ResultSuccess,
	})
	if created == nil {
		created = []store.Participant{}
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdateParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	participant, found, err := a.Store.UpdateParticipant(r.Context(), mux.Vars(r)["id"], store.ParticipantUpdate{
		FullName:     req.FullName,
		Phone:        req.Phone,
		Position:     req.Position,
		StaffGroupID: req.StaffGroupID,
		Now:          a.now(),
	})
	if err != nil {
		slog.Error("update participant failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}

	a.logEvent(r.Context(), store.EventLogInsert{
		ParticipantID: participant.ID,
		StaffGroupID:  participant.StaffGroupID,
		Action:        domain.ActionParticipantUpdated,
		Details:       fmt.Sprintf("Participant %q updated", participant.FullName),
		Result:        domain.ResultSuccess,
	})
	writeJSON(w, http.StatusOK, participant)
}

func (a *API) handleDeleteParticipant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	participant, found, err := a.Store.GetParticipant(r.Context(), id)
	if err != nil {
		slog.Error("get participant failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}

	if _, err := a.Store.DeleteParticipant(r.Context(), id); err != nil {
		slog.Error("delete participant failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	a.logEvent(r.Context(), store.EventLogInsert{
		StaffGroupID: participant.StaffGroupID,
		Action:       domain.ActionParticipantDeleted,
		Details:      fmt.Sprintf("Participant %q deleted", participant.FullName),
		Result:       domain.ResultSuccess,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ===== Message templates =====

type templateRequest struct {
	Name         *string `json:"name"`
	Content      *string `json:"content"`
	StaffGroupID *string `json:"staffGroupId"`
}

func (a *API) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	var (
		templates []store.MessageTemplate
		err       error
	)
	if staffGroupID := r.URL.Query().Get("staffGroupId"); staffGroupID != "" {
		templates, err = a.Store.ListMessageTemplatesByStaffGroup(r.Context(), staffGroupID)
	} else {
		templates, err = a.Store.ListMessageTemplates(r.Context())
	}
	if err != nil {
		slog.Error("list message templates failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSONList(w, templates)
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Name == nil || *req.Name == "" || req.Content == nil || *req.Content == "" {
		http.Error(w, "name and content are required", http.StatusBadRequest)
		return
	}

	in := store.MessageTemplateInsert{
		ID:      a.newID("tpl"),
		Name:    *req.Name,
		Content: *req.Content,
		Now:     a.now(),
	}
	if req.StaffGroupID != nil {
		in.StaffGroupID = *req.StaffGroupID
	}
	template, err := a.Store.InsertMessageTemplate(r.Context(), in)
	if err != nil {
		slog.Error("create message template failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, template)
}

func (a *API) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	template, found, err := a.Store.UpdateMessageTemplate(r.Context(), mux.Vars(r)["id"], store.MessageTemplateUpdate{
		Name:         req.Name,
		Content:      req.Content,
		StaffGroupID: req.StaffGroupID,
		Now:          a.now(),
	})
	if err != nil {
		slog.Error("update message template failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, template)
}

func (a *API) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	deleted, err := a.Store.DeleteMessageTemplate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		slog.Error("delete message template failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !deleted {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
