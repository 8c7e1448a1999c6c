package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"staffnotify/internal/store"
)

const participantCols = `id, full_name, phone, COALESCE(position,''), COALESCE(staff_group_id,''), created_at, updated_at`

func scanParticipant(row pgx.Row) (store.Participant, error) {
	var p store.Participant
	err := row.Scan(&p.ID, &p.FullName, &p.Phone, &p.Position, &p.StaffGroupID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetParticipant(ctx context.Context, id string) (store.Participant, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+participantCols+` FROM participants WHERE id=$1`, id)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Participant{}, false, nil
		}
		return store.Participant{}, false, err
	}
	return p, true, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]store.Participant, error) {
	return s.queryParticipants(ctx, `SELECT `+participantCols+` FROM participants ORDER BY created_at DESC`)
}

func (s *Store) ListParticipantsByStaffGroup(ctx context.Context, staffGroupID string) ([]store.Participant, error) {
	return s.queryParticipants(ctx, `SELECT `+participantCols+` FROM participants WHERE staff_group_id=$1 ORDER BY full_name`, staffGroupID)
}

func (s *Store) queryParticipants(ctx context.Context, q string, args ...any) ([]store.Participant, error) {
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertParticipant(ctx context.Context, in store.ParticipantInsert) (store.Participant, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO participants (id, full_name, phone, position, staff_group_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		RETURNING `+participantCols,
		in.ID, in.FullName, in.Phone, nullIfEmpty(in.Position), nullIfEmpty(in.StaffGroupID), in.Now)
	return scanParticipant(row)
}

// InsertParticipants bulk-inserts pre-validated rows (the import path).
func (s *Store) InsertParticipants(ctx context.Context, ins []store.ParticipantInsert) ([]store.Participant, error) {
	if len(ins) == 0 {
		return nil, nil
	}
	out := make([]store.Participant, 0, len(ins))
	for _, in := range ins {
		p, err := s.InsertParticipant(ctx, in)
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpdateParticipant(ctx context.Context, id string, in store.ParticipantUpdate) (store.Participant, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE participants SET
			full_name=COALESCE($2, full_name),
			phone=COALESCE($3, phone),
			position=COALESCE($4, position),
			staff_group_id=COALESCE($5, staff_group_id),
			updated_at=$6
		WHERE id=$1
		RETURNING `+participantCols,
		id, in.FullName, in.Phone, in.Position, in.StaffGroupID, in.Now)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Participant{}, false, nil
		}
		return store.Participant{}, false, err
	}
	return p, true, nil
}

func (s *Store) DeleteParticipant(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM participants WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

const staffGroupCols = `id, name, COALESCE(description,''), created_at, updated_at`

func scanStaffGroup(row pgx.Row) (store.StaffGroup, error) {
	var g store.StaffGroup
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func (s *Store) ListStaffGroups(ctx context.Context) ([]store.StaffGroupWithParticipants, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+staffGroupCols+` FROM staff_groups ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []store.StaffGroup
	for rows.Next() {
		g, err := scanStaffGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]store.StaffGroupWithParticipants, 0, len(groups))
	for _, g := range groups {
		members, err := s.ListParticipantsByStaffGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, store.StaffGroupWithParticipants{
			StaffGroup:       g,
			Participants:     members,
			ParticipantCount: len(members),
		})
	}
	return out, nil
}

func (s *Store) GetStaffGroup(ctx context.Context, id string) (store.StaffGroupWithParticipants, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+staffGroupCols+` FROM staff_groups WHERE id=$1`, id)
	g, err := scanStaffGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StaffGroupWithParticipants{}, false, nil
		}
		return store.StaffGroupWithParticipants{}, false, err
	}
	members, err := s.ListParticipantsByStaffGroup(ctx, id)
	if err != nil {
		return store.StaffGroupWithParticipants{}, false, err
	}
	return store.StaffGroupWithParticipants{
		StaffGroup:       g,
		Participants:     members,
		ParticipantCount: len(members),
	}, true, nil
}

func (s *Store) InsertStaffGroup(ctx context.Context, in store.StaffGroupInsert) (store.StaffGroup, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO staff_groups (id, name, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		RETURNING `+staffGroupCols,
		in.ID, in.Name, nullIfEmpty(in.Description), in.Now)
	return scanStaffGroup(row)
}

func (s *Store) UpdateStaffGroup(ctx context.Context, id string, in store.StaffGroupUpdate) (store.StaffGroup, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE staff_groups SET
			name=COALESCE($2, name),
			description=COALESCE($3, description),
			updated_at=$4
		WHERE id=$1
		RETURNING `+staffGroupCols,
		id, in.Name, in.Description, in.Now)
	g, err := scanStaffGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.StaffGroup{}, false, nil
		}
		return store.StaffGroup{}, false, err
	}
	return g, true, nil
}

func (s *Store) DeleteStaffGroup(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM staff_groups WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

const templateCols = `id, name, content, COALESCE(staff_group_id,''), created_at, updated_at`

func scanTemplate(row pgx.Row) (store.MessageTemplate, error) {
	var t store.MessageTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Content, &t.StaffGroupID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) ListMessageTemplates(ctx context.Context) ([]store.MessageTemplate, error) {
	return s.queryTemplates(ctx, `SELECT `+templateCols+` FROM message_templates ORDER BY name`)
}

func (s *Store) ListMessageTemplatesByStaffGroup(ctx context.Context, staffGroupID string) ([]store.MessageTemplate, error) {
	return s.queryTemplates(ctx, `SELECT `+templateCols+` FROM message_templates WHERE staff_group_id=$1 ORDER BY name`, staffGroupID)
}

func (s *Store) queryTemplates(ctx context.Context, q string, args ...any) ([]store.MessageTemplate, error) {
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertMessageTemplate(ctx context.Context, in store.MessageTemplateInsert) (store.MessageTemplate, error) {
	row := s.DB.QueryRow(ctx, `
		INSERT INTO message_templates (id, name, content, staff_group_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		RETURNING `+templateCols,
		in.ID, in.Name, in.Content, nullIfEmpty(in.StaffGroupID), in.Now)
	return scanTemplate(row)
}

func (s *Store) UpdateMessageTemplate(ctx context.Context, id string, in store.MessageTemplateUpdate) (store.MessageTemplate, bool, error) {
	row := s.DB.QueryRow(ctx, `
		UPDATE message_templates SET
			name=COALESCE($2, name),
			content=COALESCE($3, content),
			staff_group_id=COALESCE($4, staff_group_id),
			updated_at=$5
		WHERE id=$1
		RETURNING `+templateCols,
		id, in.Name, in.Content, in.StaffGroupID, in.Now)
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.MessageTemplate{}, false, nil
		}
		return store.MessageTemplate{}, false, err
	}
	return t, true, nil
}

func (s *Store) DeleteMessageTemplate(ctx context.Context, id string) (bool, error) {
	ct, err := s.DB.Exec(ctx, `DELETE FROM message_templates WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
