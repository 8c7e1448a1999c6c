package store

import "time"

type Notification struct {
	ID            string     `json:"id"`
	ParticipantID string     `json:"participantId"`
	StaffGroupID  string     `json:"staffGroupId,omitempty"`
	Message       string     `json:"message"`
	Status        string     `json:"status"`
	ScheduledAt   *time.Time `json:"scheduledAt,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	APIResponse   string     `json:"apiResponse,omitempty"`
	SmsID         string     `json:"smsId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type Participant struct {
	ID           string    `json:"id"`
	FullName     string    `json:"fullName"`
	Phone        string    `json:"phone"`
	Position     string    `json:"position,omitempty"`
	StaffGroupID string    `json:"staffGroupId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type StaffGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type StaffGroupWithParticipants struct {
	StaffGroup
	Participants     []Participant `json:"participants"`
	ParticipantCount int           `json:"participantCount"`
}

type MessageTemplate struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	StaffGroupID string    `json:"staffGroupId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type EventLog struct {
	ID             string    `json:"id"`
	ParticipantID  string    `json:"participantId,omitempty"`
	StaffGroupID   string    `json:"staffGroupId,omitempty"`
	NotificationID string    `json:"notificationId,omitempty"`
	Action         string    `json:"action"`
	Details        string    `json:"details,omitempty"`
	Result         string    `json:"result,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	APIRequest     string    `json:"apiRequest,omitempty"`
	APIResponse    string    `json:"apiResponse,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type NotificationWithDetails struct {
	Notification
	Participant *Participant `json:"participant,omitempty"`
	StaffGroup  *StaffGroup  `json:"staffGroup,omitempty"`
}

type EventLogWithDetails struct {
	EventLog
	Participant *Participant `json:"participant,omitempty"`
	StaffGroup  *StaffGroup  `json:"staffGroup,omitempty"`
}

type NotificationInsert struct {
	ID            string
	ParticipantID string
	StaffGroupID  string
	Message       string
	Status        string
	ScheduledAt   *time.Time
	Now           time.Time
}

// NotificationStatusUpdate merges the optional fields into the row and always
// refreshes updated_at. Empty strings and nil times leave the stored value
// untouched.
type NotificationStatusUpdate struct {
	ID           string
	Status       string
	SentAt       *time.Time
	DeliveredAt  *time.Time
	SmsID        string
	ErrorMessage string
	APIResponse  string
	Now          time.Time
}

type EventLogInsert struct {
	ID             string
	ParticipantID  string
	StaffGroupID   string
	NotificationID string
	Action         string
	Details        string
	Result         string
	ErrorMessage   string
	APIRequest     string
	APIResponse    string
	Now            time.Time
}

type ParticipantInsert struct {
	ID           string
	FullName     string
	Phone        string
	Position     string
	StaffGroupID string
	Now          time.Time
}

type ParticipantUpdate struct {
	FullName     *string
	Phone        *string
	Position     *string
	StaffGroupID *string
	Now          time.Time
}

type StaffGroupInsert struct {
	ID          string
	Name        string
	Description string
	Now         time.Time
}

type StaffGroupUpdate struct {
	Name        *string
	Description *string
	Now         time.Time
}

type MessageTemplateInsert struct {
	ID           string
	Name         string
	Content      string
	StaffGroupID string
	Now          time.Time
}

type MessageTemplateUpdate struct {
	Name         *string
	Content      *string
	StaffGroupID *string
	Now          time.Time
}

type GroupStats struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Error     int `json:"error"`
	Scheduled int `json:"scheduled"`
}

type Stats struct {
	TotalStaffGroups            int `json:"totalStaffGroups"`
	TotalParticipants           int `json:"totalParticipants"`
	TotalNotificationsSent      int `json:"totalNotificationsSent"`
	TotalNotificationsDelivered int `json:"totalNotificationsDelivered"`
}
