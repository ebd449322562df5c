package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftbot/internal/config"
	"shiftbot/internal/db"
	"shiftbot/internal/domain"
	"shiftbot/internal/messenger"
	"shiftbot/internal/migrate"
	"shiftbot/internal/registry"
)

type sent struct {
	To      string // user id for Send, message id for Reply
	Reply   bool
	Message messenger.Message
}

type fakeMessenger struct {
	mu   sync.Mutex
	out  []sent
	fail bool
}

func (f *fakeMessenger) Send(_ context.Context, to string, msg messenger.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{To: to, Message: msg})
	if f.fail {
		return errors.New("platform down")
	}
	return nil
}

func (f *fakeMessenger) Reply(_ context.Context, messageID string, msg messenger.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{To: messageID, Reply: true, Message: msg})
	if f.fail {
		return errors.New("platform down")
	}
	return nil
}

// take returns and clears everything recorded so far.
func (f *fakeMessenger) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

func to(out []sent, id string) []sent {
	var res []sent
	for _, s := range out {
		if s.To == id {
			res = append(res, s)
		}
	}
	return res
}

type testEnv struct {
	Bot *Bot
	Msg *fakeMessenger
	Reg *registry.Registry
	Now time.Time
	ctx context.Context
}

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
	env := &testEnv{Msg: &fakeMessenger{}, Now: time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC), ctx: ctx}
	env.Reg = registry.New(conn, sched)
	env.Reg.Now = func() time.Time { return env.Now }
	require.NoError(t, env.Reg.Seed(ctx, config.Roster{
		Day:   []string{"ou_d1", "ou_d2", "ou_d3"},
		Night: []string{"ou_n1"},
	}, []string{"ou_admin"}))
	env.Bot = &Bot{Registry: env.Reg, Messenger: env.Msg, Logger: zerolog.Nop(), Approvers: []string{"ou_cfo"}}
	return env
}

func (e *testEnv) say(sender, text string, mentions ...Mention) []sent {
	e.Bot.HandleMessage(e.ctx, Inbound{SenderID: sender, MessageID: "om_" + sender, ChatType: "p2p", MessageType: "text", Text: text, Mentions: mentions})
	return e.Msg.take()
}

func (e *testEnv) click(operator, value string) []sent {
	e.Bot.HandleAction(e.ctx, ActionEvent{OperatorID: operator, Value: value})
	return e.Msg.take()
}

func onlyReply(t *testing.T, out []sent) string {
	t.Helper()
	require.Len(t, out, 1)
	require.True(t, out[0].Reply)
	return out[0].Message.Text
}

func TestUnknownCommandGetsHelp(t *testing.T) {
	env := newTestEnv(t)
	help := onlyReply(t, env.say("ou_u", "/help"))
	assert.Equal(t, helpText, help)
	assert.Equal(t, help, onlyReply(t, env.say("ou_u", "/unknown-xyz")))
	assert.Equal(t, help, onlyReply(t, env.say("ou_u", "/помощь")))
}

func TestNonCommandText(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, textOnlyCommands, onlyReply(t, env.say("ou_u", "hello")))
	assert.Equal(t, helpText, onlyReply(t, env.say("ou_u", "@_user_1 /help")))

	env.Bot.HandleMessage(env.ctx, Inbound{SenderID: "ou_u", MessageID: "om_1", MessageType: "image"})
	assert.Equal(t, textOnlyText, onlyReply(t, env.Msg.take()))
}

func TestRequestNotifiesResponsibleParties(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, textRequestUsage, onlyReply(t, env.say("ou_u", "/request   ")))
	items, err := env.Reg.ListRequests(env.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, items)

	out := env.say("ou_u", "/request printer is broken")
	require.Len(t, out, 3)
	assert.Contains(t, out[0].Message.Text, "#1")
	for _, id := range []string{"ou_d1", "ou_d2"} {
		got := to(out, id)
		require.Len(t, got, 1, id)
		require.Len(t, got[0].Message.Buttons, 1)
		assert.Equal(t, "take_1", got[0].Message.Buttons[0].Value)
	}
}

func TestRequestApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	env.say("ou_u", "/заявка нужен монитор")

	out := env.click("ou_d1", "take_1")
	require.Len(t, to(out, "ou_u"), 1, "requester hears about it")
	fork := to(out, "ou_d1")
	require.Len(t, fork, 1)
	assert.Equal(t, []string{"approve_1", "noapprove_1"}, values(fork[0].Message))

	out = env.click("ou_d2", "take_1")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Message.Text, "в работе")

	out = env.click("ou_d1", "approve_1")
	require.Len(t, out, 1)
	assert.Equal(t, []string{"route_1_ou_cfo"}, values(out[0].Message))
	req, err := env.Reg.GetRequest(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestInProgress, req.Status)

	out = env.click("ou_d1", "route_1_ou_cfo")
	toCFO := to(out, "ou_cfo")
	require.Len(t, toCFO, 1)
	assert.Equal(t, []string{"accept_1", "reject_1"}, values(toCFO[0].Message))

	out = env.click("ou_d1", "accept_1")
	require.Len(t, out, 1)
	assert.Equal(t, textDenied, out[0].Message.Text)

	out = env.click("ou_cfo", "accept_1")
	toAssignee := to(out, "ou_d1")
	require.Len(t, toAssignee, 1)
	assert.Equal(t, []string{"finish_1"}, values(toAssignee[0].Message))

	out = env.click("ou_d1", "finish_1")
	require.Len(t, to(out, "ou_u"), 1)
	req, err = env.Reg.GetRequest(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, req.Status)
	require.NotNil(t, req.CompletedAt)
}

func TestFinishPendingRequestIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.say("ou_u", "/request vpn")
	out := env.click("ou_d1", "finish_1")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Message.Text, "Нельзя")
	req, err := env.Reg.GetRequest(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)
}

func TestUnknownActionIsAnswered(t *testing.T) {
	env := newTestEnv(t)
	for _, v := range []string{"explode_1", "take", ""} {
		out := env.click("ou_d1", v)
		require.Len(t, out, 1, v)
		assert.Equal(t, textNotUnderstood, out[0].Message.Text)
	}
	out := env.click("ou_d1", "take_99")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Message.Text, "Не найдено")
}

func TestTaskRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	out := env.say("ou_boss", "/task Prepare report for @Ivan")
	require.Len(t, out, 2)
	toIvan := to(out, "Ivan")
	require.Len(t, toIvan, 1)
	assert.Equal(t, []string{"complete_1"}, values(toIvan[0].Message))

	out = env.click("Ivan", "complete_1")
	assert.Len(t, to(out, "ou_boss"), 1, "creator is notified exactly once")

	task, err := env.Reg.GetTask(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, task.Status)

	out = env.click("Ivan", "complete_1")
	assert.Empty(t, to(out, "ou_boss"))
}

func TestTaskParsing(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, textTaskUsage, onlyReply(t, env.say("ou_boss", "/task Prepare report")))
	assert.Equal(t, textTaskUsage, onlyReply(t, env.say("ou_boss", "/task for @Ivan")))
	assert.Equal(t, textBadDate, onlyReply(t, env.say("ou_boss", "/task Report for @Ivan friday")))

	out := env.say("ou_boss", "/задача Отчёт для подготовки для @_user_2 2024-03-10",
		Mention{Key: "@_user_1", Name: "bot", ID: "ou_bot"},
		Mention{Key: "@_user_2", Name: "Иван", ID: "ou_ivan"})
	require.Len(t, to(out, "ou_ivan"), 1)
	task, err := env.Reg.GetTask(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Отчёт для подготовки", task.Text)
	require.NotNil(t, task.Deadline)
	assert.Equal(t, "2024-03-10", *task.Deadline)

	env.say("ou_boss", "/task Call back for @Иван", Mention{Key: "@_user_1", Name: "Иван", ID: "ou_ivan"})
	task, err = env.Reg.GetTask(env.ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "ou_ivan", task.AssigneeID)
}

func TestAdminRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	env.say("ou_u", "/request one")
	before, err := env.Reg.Stats(env.ctx)
	require.NoError(t, err)

	assert.Equal(t, textDenied, onlyReply(t, env.say("ou_u", "/admin stats")))
	assert.Equal(t, textDenied, onlyReply(t, env.say("ou_u", "/admin add-responsible day ou_u")))

	after, err := env.Reg.Stats(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	ros, err := env.Reg.Roster(env.ctx)
	require.NoError(t, err)
	assert.NotContains(t, ros.Day, "ou_u")

	stats := onlyReply(t, env.say("ou_admin", "/admin stats"))
	assert.Contains(t, stats, "ожидают 1")
}

func TestAdminRoster(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, adminUsage, onlyReply(t, env.say("ou_admin", "/admin dance")))

	reply := onlyReply(t, env.say("ou_admin", "/admin add-responsible night @_user_1", Mention{Key: "@_user_1", Name: "Ann", ID: "ou_ann"}))
	assert.Contains(t, reply, "ou_n1, ou_ann")

	env.say("ou_admin", "/admin remove-responsible day ou_d1")
	ros, err := env.Reg.Roster(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ou_d2", "ou_d3"}, ros.Day)

	env.say("ou_admin", "/admin add-shift 2024-03-04 day ou_d3")
	assert.Contains(t, onlyReply(t, env.say("ou_u", "/shift")), "ou_d3")
	assert.Contains(t, onlyReply(t, env.say("ou_u", "/смена 2024-03-05")), "ou_d2, ou_d3")
}

func TestResponsibleRotates(t *testing.T) {
	env := newTestEnv(t)
	assert.Contains(t, onlyReply(t, env.say("ou_u", "/responsible")), "ou_d1, ou_d2")
	env.Now = env.Now.Add(7 * 24 * time.Hour)
	assert.Contains(t, onlyReply(t, env.say("ou_u", "/responsible-parties")), "ou_d2, ou_d3")
}

func TestReminders(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, textReminderUsage, onlyReply(t, env.say("ou_u", "/reminder call mom")))
	assert.Equal(t, textReminderUsage, onlyReply(t, env.say("ou_u", "/reminder call mom at xyz")))

	reply := onlyReply(t, env.say("ou_u", "/reminder standup at 10:30"))
	assert.Contains(t, reply, "2024-03-05 10:30")
	reply = onlyReply(t, env.say("ou_u", "/напоминание обед в 13:00"))
	assert.Contains(t, reply, "2024-03-04 13:00")

	n, err := env.Bot.FireReminders(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.Now = env.Now.Add(2 * time.Hour)
	n, err = env.Bot.FireReminders(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	out := env.Msg.take()
	require.Len(t, out, 1)
	assert.Equal(t, "ou_u", out[0].To)
	assert.True(t, strings.HasSuffix(out[0].Message.Text, "обед"))

	n, err = env.Bot.FireReminders(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotesAreForwarded(t *testing.T) {
	env := newTestEnv(t)
	env.say("ou_u", "/request broken chair")
	env.click("ou_d1", "take_1")

	out := env.say("ou_u", "#comment_1: it is on floor 3")
	require.Len(t, out, 2)
	require.Len(t, to(out, "ou_d1"), 1)

	out = env.say("ou_d1", "#comment_1: on my way")
	require.Len(t, to(out, "ou_u"), 1)

	assert.Contains(t, onlyReply(t, env.say("ou_u", "#comment_9: hello")), "Не найдено")
	assert.Contains(t, onlyReply(t, env.say("ou_u", "#question_x: hello")), "Ошибка")

	req, err := env.Reg.GetRequest(env.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, req.Comments, 2)
}

func TestSendFailuresAreSwallowed(t *testing.T) {
	env := newTestEnv(t)
	env.Msg.fail = true
	env.say("ou_u", "/request still saved")
	req, err := env.Reg.GetRequest(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)
}

func values(m messenger.Message) []string {
	var out []string
	for _, b := range m.Buttons {
		out = append(out, b.Value)
	}
	return out
}
