package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"shiftbot/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return nullable(*v)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// --- requests ---

const requestColumns = `id,requester_id,text,status,assignee_id,created_at,taken_at,completed_at`

func scanRequest(s scanner) (domain.Request, error) {
	var req domain.Request
	var assignee, taken, completed sql.NullString
	err := s.Scan(&req.ID, &req.RequesterID, &req.Text, &req.Status, &assignee, &req.CreatedAt, &taken, &completed)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.AssigneeID = stringPtr(assignee)
	req.TakenAt = stringPtr(taken)
	req.CompletedAt = stringPtr(completed)
	return req, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO requests(requester_id,text,status,assignee_id,created_at) VALUES (?,?,?,?,?)`,
		req.RequesterID, req.Text, req.Status, nullableStringPtr(req.AssigneeID), req.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?,assignee_id=?,taken_at=?,completed_at=? WHERE id=?`,
		req.Status, nullableStringPtr(req.AssigneeID), nullableStringPtr(req.TakenAt), nullableStringPtr(req.CompletedAt), req.ID)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	return getRequest(ctx, r.DB, id)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Request, error) {
	return getRequest(ctx, tx, id)
}

func getRequest(ctx context.Context, q Querier, id int64) (domain.Request, error) {
	return scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

func (r Repo) ListRequests(ctx context.Context, status string) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// --- tasks ---

const taskColumns = `id,creator_id,assignee_id,text,status,deadline,created_at,completed_at`

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var deadline, completed sql.NullString
	err := s.Scan(&t.ID, &t.CreatorID, &t.AssigneeID, &t.Text, &t.Status, &deadline, &t.CreatedAt, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Deadline = stringPtr(deadline)
	t.CompletedAt = stringPtr(completed)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(creator_id,assignee_id,text,status,deadline,created_at) VALUES (?,?,?,?,?,?)`,
		t.CreatorID, t.AssigneeID, t.Text, t.Status, nullableStringPtr(t.Deadline), t.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?,completed_at=? WHERE id=?`,
		t.Status, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q Querier, id int64) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	Status     string
	AssigneeID string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY id`, taskColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- approvals ---

const approvalColumns = `id,request_id,approver_id,status,COALESCE(comment,''),created_at,resolved_at`

func scanApproval(s scanner) (domain.Approval, error) {
	var a domain.Approval
	var resolved sql.NullString
	err := s.Scan(&a.ID, &a.RequestID, &a.ApproverID, &a.Status, &a.Comment, &a.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.ResolvedAt = stringPtr(resolved)
	return a, nil
}

func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO approvals(request_id,approver_id,status,comment,created_at) VALUES (?,?,?,?,?)`,
		a.RequestID, a.ApproverID, a.Status, nullable(a.Comment), a.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert approval: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) UpdateApproval(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	res, err := tx.ExecContext(ctx, `UPDATE approvals SET status=?,comment=?,resolved_at=? WHERE id=?`,
		a.Status, nullable(a.Comment), nullableStringPtr(a.ResolvedAt), a.ID)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetApprovalTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Approval, error) {
	return scanApproval(tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=?`, id))
}

// ListApprovals returns approvals of one request, or all when requestID is 0.
func (r Repo) ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []any
	if requestID > 0 {
		query += ` WHERE request_id=?`
		args = append(args, requestID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- reminders ---

const reminderColumns = `id,owner_id,text,fire_at,sent,created_at`

func scanReminder(s scanner) (domain.Reminder, error) {
	var rem domain.Reminder
	var sent int
	err := s.Scan(&rem.ID, &rem.OwnerID, &rem.Text, &rem.FireAt, &sent, &rem.CreatedAt)
	if err == sql.ErrNoRows {
		return rem, ErrNotFound
	}
	rem.Sent = sent != 0
	return rem, err
}

func (r Repo) InsertReminder(ctx context.Context, tx *sql.Tx, rem domain.Reminder) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO reminders(owner_id,text,fire_at,sent,created_at) VALUES (?,?,?,0,?)`,
		rem.OwnerID, rem.Text, rem.FireAt, rem.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return res.LastInsertId()
}

// DueRemindersTx lists unsent reminders whose fire time is at or before now
// (RFC3339 UTC, so string order is time order).
func (r Repo) DueRemindersTx(ctx context.Context, tx *sql.Tx, now string) ([]domain.Reminder, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE sent=0 AND fire_at<=? ORDER BY fire_at, id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}

func (r Repo) MarkReminderSent(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET sent=1 WHERE id=? AND sent=0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListReminders(ctx context.Context, ownerID string, includeSent bool) ([]domain.Reminder, error) {
	clauses := []string{"1=1"}
	var args []any
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	if !includeSent {
		clauses = append(clauses, "sent=0")
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM reminders WHERE %s ORDER BY fire_at, id`, reminderColumns, strings.Join(clauses, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rem)
	}
	return res, rows.Err()
}

// --- comments ---

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO comments(entity_kind,entity_id,author_id,kind,text,created_at) VALUES (?,?,?,?,?,?)`,
		c.EntityKind, c.EntityID, c.AuthorID, c.Kind, c.Text, c.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}
	return res.LastInsertId()
}

func (r Repo) ListComments(ctx context.Context, entityKind string, entityID int64) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,entity_kind,entity_id,author_id,kind,text,created_at FROM comments WHERE entity_kind=? AND entity_id=? ORDER BY id`,
		entityKind, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.EntityKind, &c.EntityID, &c.AuthorID, &c.Kind, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- stats ---

func (r Repo) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r Repo) Stats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	var err error
	if s.Requests, err = r.countByStatus(ctx, "requests"); err != nil {
		return s, err
	}
	if s.Tasks, err = r.countByStatus(ctx, "tasks"); err != nil {
		return s, err
	}
	if s.Approvals, err = r.countByStatus(ctx, "approvals"); err != nil {
		return s, err
	}
	err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(sent=0),0), COALESCE(SUM(sent=1),0) FROM reminders`).
		Scan(&s.PendingReminders, &s.SentReminders)
	return s, err
}

func (r Repo) Workload(ctx context.Context) ([]domain.Workload, error) {
	byMember := map[string]*domain.Workload{}
	get := func(id string) *domain.Workload {
		w, ok := byMember[id]
		if !ok {
			w = &domain.Workload{MemberID: id}
			byMember[id] = w
		}
		return w
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT assignee_id, SUM(status='in_progress'), SUM(status='completed') FROM requests WHERE assignee_id IS NOT NULL GROUP BY assignee_id`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id string
		var open, done int
		if err := rows.Scan(&id, &open, &done); err != nil {
			rows.Close()
			return nil, err
		}
		w := get(id)
		w.OpenRequests, w.DoneRequests = open, done
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows, err = r.DB.QueryContext(ctx, `SELECT assignee_id, SUM(status='assigned'), SUM(status='done') FROM tasks GROUP BY assignee_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var open, done int
		if err := rows.Scan(&id, &open, &done); err != nil {
			return nil, err
		}
		w := get(id)
		w.OpenTasks, w.DoneTasks = open, done
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Workload, 0, len(byMember))
	for _, w := range byMember {
		res = append(res, *w)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MemberID < res[j].MemberID })
	return res, nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, entityKind string, entityID int64) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID > 0 {
		clauses = append(clauses, "entity_id=?")
		args = append(args, strconv.FormatInt(entityID, 10))
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,COALESCE(payload_json,'') FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
