package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftbot/internal/config"
	"shiftbot/internal/db"
	"shiftbot/internal/domain"
	"shiftbot/internal/migrate"
	"shiftbot/internal/registry"
	"shiftbot/internal/repo"
)

type testEnv struct {
	Reg *registry.Registry
	Ctx context.Context
	Now time.Time
}

func (e *testEnv) advance(d time.Duration) { e.Now = e.Now.Add(d) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	sched := config.Default().Schedule
	sched.Timezone = "UTC"
	env := &testEnv{Ctx: ctx, Now: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)}
	env.Reg = registry.New(conn, sched)
	env.Reg.Now = func() time.Time { return env.Now }
	require.NoError(t, env.Reg.Seed(ctx, config.Roster{
		Day:   []string{"ou_d1", "ou_d2", "ou_d3"},
		Night: []string{"ou_n1", "ou_n2"},
	}, []string{"ou_admin"}))
	return env
}

func TestRequestIDsIncrease(t *testing.T) {
	env := newTestEnv(t)
	var last int64
	for i := 0; i < 5; i++ {
		req, err := env.Reg.CreateRequest(env.Ctx, "ou_user", "need a laptop")
		require.NoError(t, err)
		assert.Greater(t, req.ID, last)
		assert.Equal(t, domain.RequestPending, req.Status)
		last = req.ID
	}
}

func TestCreateRequestRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Reg.CreateRequest(env.Ctx, "ou_user", "   ")
	require.ErrorIs(t, err, registry.ErrInvalid)

	items, err := env.Reg.ListRequests(env.Ctx, "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Reg.CreateRequest(env.Ctx, "ou_user", "fix the printer")
	require.NoError(t, err)

	// finishing before taking would skip in_progress
	_, err = env.Reg.FinishRequest(env.Ctx, req.ID, "ou_d1")
	var te registry.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.RequestPending, te.From)

	taken, err := env.Reg.TakeRequest(env.Ctx, req.ID, "ou_d1")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestInProgress, taken.Status)
	assert.Equal(t, "ou_d1", taken.Assignee())
	require.NotNil(t, taken.TakenAt)

	_, err = env.Reg.TakeRequest(env.Ctx, req.ID, "ou_d2")
	require.ErrorAs(t, err, &te)

	env.advance(time.Hour)
	done, err := env.Reg.FinishRequest(env.Ctx, req.ID, "ou_d1")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "2024-03-04T13:00:00Z", *done.CompletedAt)

	for _, fn := range []func() error{
		func() error { _, err := env.Reg.TakeRequest(env.Ctx, req.ID, "ou_d1"); return err },
		func() error { _, err := env.Reg.FinishRequest(env.Ctx, req.ID, "ou_d1"); return err },
	} {
		require.ErrorAs(t, fn(), &te)
	}
	got, err := env.Reg.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, got.Status)
}

func TestUnknownRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Reg.TakeRequest(env.Ctx, 99, "ou_d1")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Reg.CreateTask(env.Ctx, registry.TaskInput{CreatorID: "ou_boss", AssigneeID: "ou_ivan", Text: "report", Deadline: "next week"})
	require.ErrorIs(t, err, registry.ErrInvalid)

	task, err := env.Reg.CreateTask(env.Ctx, registry.TaskInput{CreatorID: "ou_boss", AssigneeID: "ou_ivan", Text: "report", Deadline: "2024-03-10"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskAssigned, task.Status)
	require.NotNil(t, task.Deadline)

	done, err := env.Reg.CompleteTask(env.Ctx, task.ID, "ou_ivan")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = env.Reg.CompleteTask(env.Ctx, task.ID, "ou_ivan")
	var te registry.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.TaskDone, te.From)
}

func TestApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Reg.CreateRequest(env.Ctx, "ou_user", "buy a monitor")
	require.NoError(t, err)

	_, _, err = env.Reg.CreateApproval(env.Ctx, req.ID, "ou_cfo", "ou_d1")
	var te registry.TransitionError
	require.ErrorAs(t, err, &te, "routing needs a taken request")

	_, err = env.Reg.TakeRequest(env.Ctx, req.ID, "ou_d1")
	require.NoError(t, err)
	a, routed, err := env.Reg.CreateApproval(env.Ctx, req.ID, "ou_cfo", "ou_d1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, a.Status)
	assert.Equal(t, domain.RequestInProgress, routed.Status)

	_, _, err = env.Reg.ResolveApproval(env.Ctx, a.ID, true, "ou_d1", "")
	var fe registry.ForbiddenError
	require.ErrorAs(t, err, &fe)

	resolved, r2, err := env.Reg.ResolveApproval(env.Ctx, a.ID, true, "ou_cfo", " ok ")
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, resolved.Status)
	assert.Equal(t, "ok", resolved.Comment)
	assert.Equal(t, "ou_d1", r2.Assignee())

	_, _, err = env.Reg.ResolveApproval(env.Ctx, a.ID, false, "ou_cfo", "")
	require.ErrorAs(t, err, &te)

	list, err := env.Reg.ListApprovals(env.Ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.ApprovalApproved, list[0].Status)
}

func TestNotes(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Reg.CreateRequest(env.Ctx, "ou_user", "vpn is down")
	require.NoError(t, err)
	c, got, err := env.Reg.CommentOnRequest(env.Ctx, req.ID, "ou_user", "still down")
	require.NoError(t, err)
	assert.Equal(t, domain.NoteComment, c.Kind)
	assert.Equal(t, "ou_user", got.RequesterID)

	_, _, err = env.Reg.CommentOnRequest(env.Ctx, 404, "ou_user", "hello")
	require.True(t, errors.Is(err, repo.ErrNotFound))

	task, err := env.Reg.CreateTask(env.Ctx, registry.TaskInput{CreatorID: "ou_boss", AssigneeID: "ou_ivan", Text: "report"})
	require.NoError(t, err)
	q, _, err := env.Reg.AskOnTask(env.Ctx, task.ID, "ou_ivan", "which quarter?")
	require.NoError(t, err)
	assert.Equal(t, domain.NoteQuestion, q.Kind)

	withNotes, err := env.Reg.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, withNotes.Comments, 1)
	tk, err := env.Reg.GetTask(env.Ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, tk.Questions, 1)
}

func TestRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Reg.RequireAdmin(env.Ctx, "ou_admin", "view stats"))
	err := env.Reg.RequireAdmin(env.Ctx, "ou_user", "view stats")
	var fe registry.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "ou_user", fe.ActorID)
}

func TestStatsAndWorkload(t *testing.T) {
	env := newTestEnv(t)
	r1, _ := env.Reg.CreateRequest(env.Ctx, "ou_user", "a")
	_, _ = env.Reg.CreateRequest(env.Ctx, "ou_user", "b")
	_, err := env.Reg.TakeRequest(env.Ctx, r1.ID, "ou_d1")
	require.NoError(t, err)
	_, err = env.Reg.CreateTask(env.Ctx, registry.TaskInput{CreatorID: "ou_boss", AssigneeID: "ou_d1", Text: "t"})
	require.NoError(t, err)
	_, err = env.Reg.CreateReminder(env.Ctx, "ou_user", "call", 15, 0)
	require.NoError(t, err)

	stats, err := env.Reg.Stats(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requests[domain.RequestPending])
	assert.Equal(t, 1, stats.Requests[domain.RequestInProgress])
	assert.Equal(t, 1, stats.Tasks[domain.TaskAssigned])
	assert.Equal(t, 1, stats.PendingReminders)

	load, err := env.Reg.Workload(env.Ctx)
	require.NoError(t, err)
	require.Len(t, load, 1)
	assert.Equal(t, domain.Workload{MemberID: "ou_d1", OpenRequests: 1, OpenTasks: 1}, load[0])

	events, err := env.Reg.AuditLog(env.Ctx, 100, domain.EntityRequest, r1.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "request.in_progress", events[0].Type)
}
