package domain

import (
	"errors"
	"strings"
	"time"
)

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusScheduled NotificationStatus = "scheduled"
	StatusSending   NotificationStatus = "sending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusError     NotificationStatus = "error"
)

// Audit action vocabulary. Every state-changing operation writes exactly one
// event log row tagged with one of these.
const (
	ActionSMSSent            = "sms_sent"
	ActionSMSScheduled       = "sms_scheduled"
	ActionSMSSendFailed      = "sms_send_failed"
	ActionSMSDelivered       = "sms_delivered"
	ActionStaffGroupCreated  = "staff_group_created"
	ActionStaffGroupUpdated  = "staff_group_updated"
	ActionStaffGroupDeleted  = "staff_group_deleted"
	ActionParticipantCreated = "participant_created"
	ActionParticipantUpdated = "participant_updated"
	ActionParticipantDeleted = "participant_deleted"
	ActionParticipantsImport = "participants_imported"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type SendBatchRequest struct {
	ParticipantIDs []string   `json:"participantIds"`
	StaffGroupID   string     `json:"staffGroupId,omitempty"`
	Message        string     `json:"message"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
}

func (r SendBatchRequest) Validate() error {
	if len(r.ParticipantIDs) == 0 {
		return ErrNoParticipants
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// Scheduled reports whether the request asks for a deferred send: a supplied
// timestamp strictly later than now at submission time. Anything else falls
// back to an immediate send.
func (r SendBatchRequest) Scheduled(now time.Time) bool {
	return r.ScheduledAt != nil && r.ScheduledAt.After(now)
}

var (
	ErrNoParticipants = errors.New("no participants selected")
	ErrEmptyMessage   = errors.New("message is required")
)

type SendItemResult struct {
	ParticipantID string `json:"participantId"`
	Success       bool   `json:"success"`
	SmsID         string `json:"smsId,omitempty"`
	Scheduled     bool   `json:"scheduled,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SendBatchResult struct {
	Success      bool             `json:"success"`
	Total        int              `json:"total"`
	SuccessCount int              `json:"successCount"`
	FailCount    int              `json:"failCount"`
	Results      []SendItemResult `json:"results"`
}
