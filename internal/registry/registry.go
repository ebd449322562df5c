// Package registry owns every piece of bot state: rosters, shifts, requests,
// tasks, approvals, reminders and the admin set. All operations are serialised
// behind one mutex and each mutation runs in a single transaction that also
// appends an audit event.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"shiftbot/internal/config"
	"shiftbot/internal/domain"
	"shiftbot/internal/events"
	"shiftbot/internal/repo"
)

// ErrInvalid marks malformed input; no state was changed.
var ErrInvalid = errors.New("invalid input")

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s is not allowed to %s", e.ActorID, e.Action)
}

// TransitionError indicates a status change that the entity lifecycle forbids.
type TransitionError struct {
	Kind string
	ID   int64
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s %d cannot move from %s to %s", e.Kind, e.ID, e.From, e.To)
}

type Registry struct {
	mu       sync.Mutex
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Schedule config.Schedule
	Now      func() time.Time
}

func New(db *sql.DB, sched config.Schedule) *Registry {
	r := &Registry{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Schedule: sched,
		Now:      time.Now,
	}
	r.Events = events.Writer{Now: r.now}
	return r
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Clock returns the registry's current time.
func (r *Registry) Clock() time.Time { return r.now() }

func (r *Registry) stamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func (r *Registry) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- requests ---

func (r *Registry) CreateRequest(ctx context.Context, requesterID, text string) (domain.Request, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Request{}, fmt.Errorf("%w: request text is required", ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	req := domain.Request{
		RequesterID: requesterID,
		Text:        text,
		Status:      domain.RequestPending,
		CreatedAt:   r.stamp(),
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := r.Repo.InsertRequest(ctx, tx, req)
		if err != nil {
			return err
		}
		req.ID = id
		return r.Events.Append(ctx, tx, "request.created", domain.EntityRequest, id, requesterID, events.Payload{"text": text})
	})
	if err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// GetRequest returns the request with its comments.
func (r *Registry) GetRequest(ctx context.Context, id int64) (domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, err := r.Repo.GetRequest(ctx, id)
	if err != nil {
		return req, fmt.Errorf("request %d: %w", id, err)
	}
	req.Comments, err = r.Repo.ListComments(ctx, domain.EntityRequest, id)
	return req, err
}

func (r *Registry) ListRequests(ctx context.Context, status string) ([]domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.ListRequests(ctx, status)
}

// TakeRequest moves a pending request to in_progress and assigns it.
func (r *Registry) TakeRequest(ctx context.Context, id int64, assigneeID string) (domain.Request, error) {
	return r.transitionRequest(ctx, id, assigneeID, domain.RequestPending, domain.RequestInProgress, func(req *domain.Request, ts string) {
		req.AssigneeID = &assigneeID
		req.TakenAt = &ts
	})
}

// FinishRequest moves an in_progress request to completed.
func (r *Registry) FinishRequest(ctx context.Context, id int64, actorID string) (domain.Request, error) {
	return r.transitionRequest(ctx, id, actorID, domain.RequestInProgress, domain.RequestCompleted, func(req *domain.Request, ts string) {
		req.CompletedAt = &ts
	})
}

func (r *Registry) transitionRequest(ctx context.Context, id int64, actorID, from, to string, apply func(*domain.Request, string)) (domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var req domain.Request
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = r.Repo.GetRequestTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("request %d: %w", id, err)
		}
		if req.Status != from {
			return TransitionError{Kind: domain.EntityRequest, ID: id, From: req.Status, To: to}
		}
		req.Status = to
		apply(&req, r.stamp())
		if err := r.Repo.UpdateRequest(ctx, tx, req); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, "request."+to, domain.EntityRequest, id, actorID, events.Payload{"from": from, "to": to})
	})
	if err != nil {
		return domain.Request{}, err
	}
	return req, nil
}

// --- tasks ---

type TaskInput struct {
	CreatorID  string
	AssigneeID string
	Text       string
	Deadline   string
}

func (r *Registry) CreateTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.AssigneeID = strings.TrimSpace(in.AssigneeID)
	if in.Text == "" {
		return domain.Task{}, fmt.Errorf("%w: task text is required", ErrInvalid)
	}
	if in.AssigneeID == "" {
		return domain.Task{}, fmt.Errorf("%w: task assignee is required", ErrInvalid)
	}
	t := domain.Task{
		CreatorID:  in.CreatorID,
		AssigneeID: in.AssigneeID,
		Text:       in.Text,
		Status:     domain.TaskAssigned,
	}
	if in.Deadline != "" {
		if _, err := time.Parse(time.DateOnly, in.Deadline); err != nil {
			return domain.Task{}, fmt.Errorf("%w: deadline must be YYYY-MM-DD", ErrInvalid)
		}
		deadline := in.Deadline
		t.Deadline = &deadline
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.CreatedAt = r.stamp()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := r.Repo.InsertTask(ctx, tx, t)
		if err != nil {
			return err
		}
		t.ID = id
		return r.Events.Append(ctx, tx, "task.created", domain.EntityTask, id, in.CreatorID, events.Payload{"assignee_id": t.AssigneeID, "text": t.Text})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns the task with its questions.
func (r *Registry) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.Repo.GetTask(ctx, id)
	if err != nil {
		return t, fmt.Errorf("task %d: %w", id, err)
	}
	t.Questions, err = r.Repo.ListComments(ctx, domain.EntityTask, id)
	return t, err
}

func (r *Registry) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.ListTasks(ctx, f)
}

// CompleteTask moves an assigned task to done.
func (r *Registry) CompleteTask(ctx context.Context, id int64, actorID string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t domain.Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		t, err = r.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("task %d: %w", id, err)
		}
		if t.Status != domain.TaskAssigned {
			return TransitionError{Kind: domain.EntityTask, ID: id, From: t.Status, To: domain.TaskDone}
		}
		ts := r.stamp()
		t.Status = domain.TaskDone
		t.CompletedAt = &ts
		if err := r.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		return r.Events.Append(ctx, tx, "task.done", domain.EntityTask, id, actorID, nil)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// --- approvals ---

// CreateApproval routes an in_progress request to an approver. The request
// itself is not changed.
func (r *Registry) CreateApproval(ctx context.Context, requestID int64, approverID, actorID string) (domain.Approval, domain.Request, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return domain.Approval{}, domain.Request{}, fmt.Errorf("%w: approver is required", ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var a domain.Approval
	var req domain.Request
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		req, err = r.Repo.GetRequestTx(ctx, tx, requestID)
		if err != nil {
			return fmt.Errorf("request %d: %w", requestID, err)
		}
		if req.Status != domain.RequestInProgress {
			return TransitionError{Kind: domain.EntityRequest, ID: requestID, From: req.Status, To: "approval"}
		}
		a = domain.Approval{
			RequestID:  requestID,
			ApproverID: approverID,
			Status:     domain.ApprovalPending,
			CreatedAt:  r.stamp(),
		}
		id, err := r.Repo.InsertApproval(ctx, tx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return r.Events.Append(ctx, tx, "approval.created", domain.EntityApproval, id, actorID, events.Payload{"request_id": requestID, "approver_id": approverID})
	})
	if err != nil {
		return domain.Approval{}, domain.Request{}, err
	}
	return a, req, nil
}

// ResolveApproval approves or rejects a pending approval. Only the designated
// approver may resolve it.
func (r *Registry) ResolveApproval(ctx context.Context, id int64, approve bool, actorID, comment string) (domain.Approval, domain.Request, error) {
	to := domain.ApprovalRejected
	if approve {
		to = domain.ApprovalApproved
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var a domain.Approval
	var req domain.Request
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		a, err = r.Repo.GetApprovalTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("approval %d: %w", id, err)
		}
		if a.ApproverID != actorID {
			return ForbiddenError{ActorID: actorID, Action: fmt.Sprintf("resolve approval %d", id)}
		}
		if a.Status != domain.ApprovalPending {
			return TransitionError{Kind: domain.EntityApproval, ID: id, From: a.Status, To: to}
		}
		ts := r.stamp()
		a.Status = to
		a.Comment = strings.TrimSpace(comment)
		a.ResolvedAt = &ts
		if err := r.Repo.UpdateApproval(ctx, tx, a); err != nil {
			return err
		}
		req, err = r.Repo.GetRequestTx(ctx, tx, a.RequestID)
		if err != nil {
			return fmt.Errorf("request %d: %w", a.RequestID, err)
		}
		return r.Events.Append(ctx, tx, "approval."+to, domain.EntityApproval, id, actorID, events.Payload{"request_id": a.RequestID})
	})
	if err != nil {
		return domain.Approval{}, domain.Request{}, err
	}
	return a, req, nil
}

func (r *Registry) ListApprovals(ctx context.Context, requestID int64) ([]domain.Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.ListApprovals(ctx, requestID)
}

// --- notes ---

// CommentOnRequest appends a comment to a request and returns the request so
// the caller can forward the comment.
func (r *Registry) CommentOnRequest(ctx context.Context, id int64, authorID, text string) (domain.Comment, domain.Request, error) {
	var req domain.Request
	c, err := r.addNote(ctx, domain.EntityRequest, domain.NoteComment, id, authorID, text, func(tx *sql.Tx) error {
		var err error
		req, err = r.Repo.GetRequestTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("request %d: %w", id, err)
		}
		return nil
	})
	return c, req, err
}

// AskOnTask appends a question to a task and returns the task.
func (r *Registry) AskOnTask(ctx context.Context, id int64, authorID, text string) (domain.Comment, domain.Task, error) {
	var t domain.Task
	c, err := r.addNote(ctx, domain.EntityTask, domain.NoteQuestion, id, authorID, text, func(tx *sql.Tx) error {
		var err error
		t, err = r.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("task %d: %w", id, err)
		}
		return nil
	})
	return c, t, err
}

func (r *Registry) addNote(ctx context.Context, entityKind, kind string, id int64, authorID, text string, load func(tx *sql.Tx) error) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, fmt.Errorf("%w: %s text is required", ErrInvalid, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := domain.Comment{
		EntityKind: entityKind,
		EntityID:   id,
		AuthorID:   authorID,
		Kind:       kind,
		Text:       text,
		CreatedAt:  r.stamp(),
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := load(tx); err != nil {
			return err
		}
		cid, err := r.Repo.InsertComment(ctx, tx, c)
		if err != nil {
			return err
		}
		c.ID = cid
		return r.Events.Append(ctx, tx, entityKind+"."+kind, entityKind, id, authorID, events.Payload{"text": text})
	})
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// --- admin & reporting ---

func (r *Registry) IsAdmin(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.IsAdmin(ctx, id)
}

// RequireAdmin returns a ForbiddenError unless id is in the admin set.
func (r *Registry) RequireAdmin(ctx context.Context, id, action string) error {
	ok, err := r.IsAdmin(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{ActorID: id, Action: action}
	}
	return nil
}

func (r *Registry) Admins(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.ListAdmins(ctx)
}

func (r *Registry) Stats(ctx context.Context) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.Stats(ctx)
}

func (r *Registry) Workload(ctx context.Context) ([]domain.Workload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.Workload(ctx)
}

// AuditLog returns the latest audit events, newest first.
func (r *Registry) AuditLog(ctx context.Context, limit int, entityKind string, entityID int64) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.LatestEvents(ctx, limit, entityKind, entityID)
}
