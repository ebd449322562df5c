package repo

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"shiftbot/internal/domain"
)

func (r Repo) TeamMembers(ctx context.Context, team string) ([]string, error) {
	return teamMembers(ctx, r.DB, team)
}

func (r Repo) TeamMembersTx(ctx context.Context, tx *sql.Tx, team string) ([]string, error) {
	return teamMembers(ctx, tx, team)
}

func teamMembers(ctx context.Context, q Querier, team string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT member_id FROM roster_members WHERE team=? ORDER BY position`, team)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ReplaceTeam rewrites the team list in the given order.
func (r Repo) ReplaceTeam(ctx context.Context, tx *sql.Tx, team string, members []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM roster_members WHERE team=?`, team); err != nil {
		return fmt.Errorf("clear team %s: %w", team, err)
	}
	for i, m := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO roster_members(team,position,member_id) VALUES (?,?,?)`, team, i, m); err != nil {
			return fmt.Errorf("insert %s member %s: %w", team, m, err)
		}
	}
	return nil
}

func (r Repo) RotationStarted(ctx context.Context) (string, error) {
	return rotationStarted(ctx, r.DB)
}

func (r Repo) RotationStartedTx(ctx context.Context, tx *sql.Tx) (string, error) {
	return rotationStarted(ctx, tx)
}

func rotationStarted(ctx context.Context, q Querier) (string, error) {
	var ts string
	err := q.QueryRowContext(ctx, `SELECT started_at FROM rotation WHERE id=1`).Scan(&ts)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return ts, err
}

func (r Repo) SetRotationStarted(ctx context.Context, tx *sql.Tx, ts string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rotation(id,started_at) VALUES (1,?) ON CONFLICT(id) DO UPDATE SET started_at=excluded.started_at`, ts)
	return err
}

// InsertShift adds a scheduled shift; duplicates are ignored.
func (r Repo) InsertShift(ctx context.Context, tx *sql.Tx, s domain.Shift) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO shifts(date,team,member_id) VALUES (?,?,?)`, s.Date, s.Team, s.MemberID)
	return err
}

func (r Repo) ShiftsOn(ctx context.Context, date string) ([]domain.Shift, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT date,team,member_id FROM shifts WHERE date=? ORDER BY team, member_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Shift
	for rows.Next() {
		var s domain.Shift
		if err := rows.Scan(&s.Date, &s.Team, &s.MemberID); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReplaceAdmins makes ids the whole admin set and reports what changed.
// Admins that stay keep their original created_at.
func (r Repo) ReplaceAdmins(ctx context.Context, tx *sql.Tx, ids []string, now string) (added, removed []string, err error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM admins ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	var current []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		current = append(current, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	for _, id := range current {
		if slices.Contains(ids, id) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM admins WHERE id=?`, id); err != nil {
			return nil, nil, err
		}
		removed = append(removed, id)
	}
	for _, id := range ids {
		if slices.Contains(current, id) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO admins(id,created_at) VALUES (?,?)`, id, now); err != nil {
			return nil, nil, err
		}
		added = append(added, id)
	}
	return added, removed, nil
}

func (r Repo) IsAdmin(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM admins WHERE id=? LIMIT 1`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListAdmins(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM admins ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
