// Postgres-backed record store. One notification row per recipient, one
// append-only event_logs row per state-changing operation.
package pg

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"staffnotify/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const notificationCols = `
	id, participant_id, COALESCE(staff_group_id,''), message, status,
	scheduled_at, sent_at, delivered_at,
	COALESCE(error_message,''), COALESCE(api_response,''), COALESCE(sms_id,''),
	created_at, updated_at`

func scanNotification(row pgx.Row) (store.Notification, error) {
	var n store.Notification
	err := row.Scan(&n.ID, &n.ParticipantID, &n.StaffGroupID, &n.Message, &n.Status,
		&n.ScheduledAt, &n.SentAt, &n.DeliveredAt,
		&n.ErrorMessage, &n.APIResponse, &n.SmsID,
		&n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (s *Store) InsertNotification(ctx context.Context, in store.NotificationInsert) (store.Notification, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO notifications (id, participant_id, staff_group_id, message, status, scheduled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		RETURNING `+notificationCols,
		in.ID, in.ParticipantID, nullIfEmpty(in.StaffGroupID), in.Message, in.Status, in.ScheduledAt, in.Now)
	return scanNotification(row)
}

func (s *Store) GetNotification(ctx context.Context, id string) (store.Notification, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=$1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Notification{}, false, nil
		}
		return store.Notification{}, false, err
	}
	return n, true, nil
}

// UpdateNotificationStatus sets the new status, merges any supplied extra
// fields and refreshes updated_at. Absent fields keep their stored values.
func (s *Store) UpdateNotificationStatus(ctx context.Context, in store.NotificationStatusUpdate) (store.Notification, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE notifications SET
			status=$2,
			sent_at=COALESCE($3, sent_at),
			delivered_at=COALESCE($4, delivered_at),
			sms_id=COALESCE($5, sms_id),
			error_message=COALESCE($6, error_message),
			api_response=COALESCE($7, api_response),
			updated_at=$8
		WHERE id=$1
		RETURNING `+notificationCols,
		in.ID, in.Status, in.SentAt, in.DeliveredAt,
		nullIfEmpty(in.SmsID), nullIfEmpty(in.ErrorMessage), nullIfEmpty(in.APIResponse), in.Now)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Notification{}, false, nil
		}
		return store.Notification{}, false, err
	}
	return n, true, nil
}

// ListDueScheduled returns scheduled notifications whose time has arrived.
func (s *Store) ListDueScheduled(ctx context.Context, now time.Time) ([]store.Notification, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+notificationCols+`
		FROM notifications
		WHERE status='scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListAwaitingConfirmation returns the set the provider has accepted but not
// yet confirmed: status "sending" with a provider message id. Rows promoted by
// the scheduler land in "sent" and are deliberately not part of this set.
func (s *Store) ListAwaitingConfirmation(ctx context.Context) ([]store.NotificationWithDetails, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT n.id, n.participant_id, COALESCE(n.staff_group_id,''), n.message, n.status,
		       n.scheduled_at, n.sent_at, n.delivered_at,
		       COALESCE(n.error_message,''), COALESCE(n.api_response,''), COALESCE(n.sms_id,''),
		       n.created_at, n.updated_at,
		       COALESCE(p.full_name,''), COALESCE(p.phone,'')
		FROM notifications n
		LEFT JOIN participants p ON p.id = n.participant_id
		WHERE n.status='sending' AND n.sms_id IS NOT NULL
		ORDER BY n.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.NotificationWithDetails
	for rows.Next() {
		var d store.NotificationWithDetails
		var fullName, phone string
		err := rows.Scan(&d.ID, &d.ParticipantID, &d.StaffGroupID, &d.Message, &d.Status,
			&d.ScheduledAt, &d.SentAt, &d.DeliveredAt,
			&d.ErrorMessage, &d.APIResponse, &d.SmsID,
			&d.CreatedAt, &d.UpdatedAt,
			&fullName, &phone)
		if err != nil {
			return nil, err
		}
		if fullName != "" || phone != "" {
			d.Participant = &store.Participant{ID: d.ParticipantID, FullName: fullName, Phone: phone}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListNotifications(ctx context.Context, limit int) ([]store.NotificationWithDetails, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listNotificationsWhere(ctx, ``, limit)
}

func (s *Store) ListNotificationsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.NotificationWithDetails, error) {
	return s.listNotificationsWhere(ctx, staffGroupID, 0)
}

func (s *Store) listNotificationsWhere(ctx context.Context, staffGroupID string, limit int) ([]store.NotificationWithDetails, error) {
	q := `
		SELECT n.id, n.participant_id, COALESCE(n.staff_group_id,''), n.message, n.status,
		       n.scheduled_at, n.sent_at, n.delivered_at,
		       COALESCE(n.error_message,''), COALESCE(n.api_response,''), COALESCE(n.sms_id,''),
		       n.created_at, n.updated_at,
		       COALESCE(p.full_name,''), COALESCE(p.phone,''), COALESCE(p.position,''),
		       COALESCE(g.id,''), COALESCE(g.name,'')
		FROM notifications n
		LEFT JOIN participants p ON p.id = n.participant_id
		LEFT JOIN staff_groups g ON g.id = n.staff_group_id`
	args := []any{}
	if staffGroupID != "" {
		q += ` WHERE n.staff_group_id=$1`
		args = append(args, staffGroupID)
	}
	q += ` ORDER BY n.created_at DESC`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.NotificationWithDetails
	for rows.Next() {
		var d store.NotificationWithDetails
		var fullName, phone, position, groupID, groupName string
		err := rows.Scan(&d.ID, &d.ParticipantID, &d.StaffGroupID, &d.Message, &d.Status,
			&d.ScheduledAt, &d.SentAt, &d.DeliveredAt,
			&d.ErrorMessage, &d.APIResponse, &d.SmsID,
			&d.CreatedAt, &d.UpdatedAt,
			&fullName, &phone, &position,
			&groupID, &groupName)
		if err != nil {
			return nil, err
		}
		if fullName != "" || phone != "" {
			d.Participant = &store.Participant{ID: d.ParticipantID, FullName: fullName, Phone: phone, Position: position, StaffGroupID: d.StaffGroupID}
		}
		if groupID != "" {
			d.StaffGroup = &store.StaffGroup{ID: groupID, Name: groupName}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteNotificationsByStatus bulk-deletes rows in the given status, optionally
// scoped to one staff group. Operator reset action, not used by the engine.
func (s *Store) DeleteNotificationsByStatus(ctx context.Context, status, staffGroupID string) (int64, error) {
	if staffGroupID != "" {
		ct, err := s.DB.Exec(ctx, `DELETE FROM notifications WHERE status=$1 AND staff_group_id=$2`, status, staffGroupID)
		if err != nil {
			return 0, err
		}
		return ct.RowsAffected(), nil
	}
	ct, err := s.DB.Exec(ctx, `DELETE FROM notifications WHERE status=$1`, status)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) InsertEventLog(ctx context.Context, in store.EventLogInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO event_logs (id, participant_id, staff_group_id, notification_id, action, details, result, error_message, api_request, api_response, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		in.ID, nullIfEmpty(in.ParticipantID), nullIfEmpty(in.StaffGroupID), nullIfEmpty(in.NotificationID),
		in.Action, nullIfEmpty(in.Details), nullIfEmpty(in.Result), nullIfEmpty(in.ErrorMessage),
		nullIfEmpty(in.APIRequest), nullIfEmpty(in.APIResponse), in.Now)
	return err
}

func (s *Store) ListEventLogs(ctx context.Context, limit int) ([]store.EventLogWithDetails, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listEventLogsWhere(ctx, ``, limit)
}

func (s *Store) ListEventLogsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.EventLogWithDetails, error) {
	return s.listEventLogsWhere(ctx, staffGroupID, 0)
}

func (s *Store) listEventLogsWhere(ctx context.Context, staffGroupID string, limit int) ([]store.EventLogWithDetails, error) {
	q := `
		SELECT e.id, COALESCE(e.participant_id,''), COALESCE(e.staff_group_id,''), COALESCE(e.notification_id,''),
		       e.action, COALESCE(e.details,''), COALESCE(e.result,''), COALESCE(e.error_message,''),
		       COALESCE(e.api_request,''), COALESCE(e.api_response,''), e.created_at,
		       COALESCE(p.full_name,''), COALESCE(p.phone,''),
		       COALESCE(g.name,'')
		FROM event_logs e
		LEFT JOIN participants p ON p.id = e.participant_id
		LEFT JOIN staff_groups g ON g.id = e.staff_group_id`
	args := []any{}
	if staffGroupID != "" {
		q += ` WHERE e.staff_group_id=$1`
		args = append(args, staffGroupID)
	}
	q += ` ORDER BY e.created_at DESC`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EventLogWithDetails
	for rows.Next() {
		var d store.EventLogWithDetails
		var fullName, phone, groupName string
		err := rows.Scan(&d.ID, &d.ParticipantID, &d.StaffGroupID, &d.NotificationID,
			&d.Action, &d.Details, &d.Result, &d.ErrorMessage,
			&d.APIRequest, &d.APIResponse, &d.CreatedAt,
			&fullName, &phone, &groupName)
		if err != nil {
			return nil, err
		}
		if d.ParticipantID != "" && fullName != "" {
			d.Participant = &store.Participant{ID: d.ParticipantID, FullName: fullName, Phone: phone}
		}
		if d.StaffGroupID != "" && groupName != "" {
			d.StaffGroup = &store.StaffGroup{ID: d.StaffGroupID, Name: groupName}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	row := s.DB.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM staff_groups),
			(SELECT count(*) FROM participants),
			(SELECT count(*) FROM notifications WHERE status IN ('sending','delivered','error')),
			(SELECT count(*) FROM notifications WHERE status='delivered')`)
	if err := row.Scan(&st.TotalStaffGroups, &st.TotalParticipants, &st.TotalNotificationsSent, &st.TotalNotificationsDelivered); err != nil {
		return store.Stats{}, err
	}
	return st, nil
}

func (s *Store) GetGroupStats(ctx context.Context, staffGroupID string) (store.GroupStats, error) {
	var st store.GroupStats
	row := s.DB.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM participants WHERE staff_group_id=$1),
			(SELECT count(*) FROM notifications WHERE staff_group_id=$1 AND status='delivered'),
			(SELECT count(*) FROM notifications WHERE staff_group_id=$1 AND status='error'),
			(SELECT count(*) FROM notifications WHERE staff_group_id=$1 AND status='scheduled')`,
		staffGroupID)
	if err := row.Scan(&st.Total, &st.Delivered, &st.Error, &st.Scheduled); err != nil {
		return store.GroupStats{}, err
	}
	return st, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

