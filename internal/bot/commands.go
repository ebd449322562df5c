package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/ru"

	"shiftbot/internal/action"
	"shiftbot/internal/domain"
	"shiftbot/internal/messenger"
	"shiftbot/internal/metrics"
	"shiftbot/internal/registry"
)

type commandFunc func(b *Bot, ctx context.Context, in Inbound, args string)

var commands = map[string]commandFunc{
	"help":        (*Bot).cmdHelp,
	"shift":       (*Bot).cmdShift,
	"responsible": (*Bot).cmdResponsible,
	"request":     (*Bot).cmdRequest,
	"helper":      (*Bot).cmdHelper,
	"task":        (*Bot).cmdTask,
	"admin":       (*Bot).cmdAdmin,
	"reminder":    (*Bot).cmdReminder,
}

var aliases = map[string]string{
	"помощь":              "help",
	"смена":               "shift",
	"ответственные":       "responsible",
	"responsible-parties": "responsible",
	"заявка":              "request",
	"помощник":            "helper",
	"задача":              "task",
	"админ":               "admin",
	"напоминание":         "reminder",
}

var (
	taskSeparators     = []string{" for ", " для "}
	reminderSeparators = []string{" at ", " в "}
	clockRe            = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
	leadingMentionRe   = regexp.MustCompile(`^(@_user_\d+\s*)+`)
)

// HandleMessage routes one chat message. It always answers the sender.
func (b *Bot) HandleMessage(ctx context.Context, in Inbound) {
	if in.MessageType != "" && in.MessageType != "text" {
		b.reply(ctx, in, messenger.Text(textOnlyText))
		return
	}
	text := strings.TrimSpace(leadingMentionRe.ReplaceAllString(strings.TrimSpace(in.Text), ""))
	if strings.HasPrefix(text, "/") {
		name, args, _ := strings.Cut(text[1:], " ")
		name = strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := aliases[name]; ok {
			name = canonical
		}
		fn, ok := commands[name]
		if !ok {
			name, fn = "help", (*Bot).cmdHelp
		}
		metrics.RecordCommand(name)
		b.Logger.Debug().Str("command", name).Str("sender", in.SenderID).Msg("command")
		fn(b, ctx, in, strings.TrimSpace(args))
		return
	}
	note, ok, err := action.ParseNote(text)
	switch {
	case ok && err != nil:
		b.reply(ctx, in, messenger.Text(b.describe(err)))
	case ok:
		b.handleNote(ctx, in, note)
	default:
		b.reply(ctx, in, messenger.Text(textOnlyCommands))
	}
}

func (b *Bot) cmdHelp(ctx context.Context, in Inbound, _ string) {
	b.reply(ctx, in, messenger.Text(helpText))
}

func (b *Bot) cmdHelper(ctx context.Context, in Inbound, _ string) {
	b.reply(ctx, in, messenger.Text(helperText))
}

func (b *Bot) cmdShift(ctx context.Context, in Inbound, args string) {
	date := strings.TrimSpace(args)
	if date == "" {
		date = b.Registry.Today()
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		b.reply(ctx, in, messenger.Text(textBadDate))
		return
	}
	shifts, err := b.Registry.Shifts(ctx, date)
	if err != nil {
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	if len(shifts) == 0 {
		parties, err := b.Registry.ResponsibleParties(ctx)
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		b.reply(ctx, in, messenger.Text(fmt.Sprintf("На %s смен не запланировано. Сейчас на смене: %s", date, joinIDs(parties))))
		return
	}
	byTeam := map[string][]string{}
	for _, s := range shifts {
		byTeam[s.Team] = append(byTeam[s.Team], s.MemberID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Смена на %s:", date)
	for _, team := range domain.Teams {
		if ids := byTeam[team]; len(ids) > 0 {
			fmt.Fprintf(&sb, "\n%s: %s", teamName(team), joinIDs(ids))
		}
	}
	b.reply(ctx, in, messenger.Text(sb.String()))
}

func (b *Bot) cmdResponsible(ctx context.Context, in Inbound, _ string) {
	if err := b.Rotate(ctx); err != nil {
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	parties, err := b.Registry.ResponsibleParties(ctx)
	if err != nil {
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	b.reply(ctx, in, messenger.Text("Сейчас ответственные: "+joinIDs(parties)))
}

func (b *Bot) cmdRequest(ctx context.Context, in Inbound, args string) {
	if args == "" {
		b.reply(ctx, in, messenger.Text(textRequestUsage))
		return
	}
	req, err := b.Registry.CreateRequest(ctx, in.SenderID, args)
	if err != nil {
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	b.reply(ctx, in, messenger.Text(fmt.Sprintf("Заявка #%d создана. Мы сообщим, когда её возьмут в работу.", req.ID)))
	parties, err := b.Registry.ResponsibleParties(ctx)
	if err != nil {
		b.Logger.Error().Err(err).Int64("request_id", req.ID).Msg("responsible lookup failed")
		return
	}
	notice := messenger.Message{
		Text:    fmt.Sprintf("Новая заявка #%d от %s:\n%s", req.ID, req.RequesterID, req.Text),
		Buttons: []messenger.Button{{Label: labelTake, Value: action.Action{Kind: action.Take, ID: req.ID}.Encode()}},
	}
	for _, id := range parties {
		b.notify(ctx, id, notice)
	}
}

func (b *Bot) cmdTask(ctx context.Context, in Inbound, args string) {
	text, rest, ok := cutLast(args, taskSeparators)
	fields := strings.Fields(rest)
	text = strings.TrimSpace(text)
	if !ok || text == "" || len(fields) == 0 || len(fields) > 2 {
		b.reply(ctx, in, messenger.Text(textTaskUsage))
		return
	}
	input := registry.TaskInput{
		CreatorID:  in.SenderID,
		AssigneeID: resolveUser(fields[0], in.Mentions),
		Text:       text,
	}
	if len(fields) == 2 {
		if _, err := time.Parse(time.DateOnly, fields[1]); err != nil {
			b.reply(ctx, in, messenger.Text(textBadDate))
			return
		}
		input.Deadline = fields[1]
	}
	task, err := b.Registry.CreateTask(ctx, input)
	if err != nil {
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	b.reply(ctx, in, messenger.Text(fmt.Sprintf("Задача #%d поставлена для %s.", task.ID, task.AssigneeID)))
	body := fmt.Sprintf("Новая задача #%d от %s:\n%s", task.ID, task.CreatorID, task.Text)
	if task.Deadline != nil {
		body += "\nСрок: " + *task.Deadline
	}
	body += fmt.Sprintf("\nВопрос автору: %s текст", action.Note{Kind: action.QuestionNote, ID: task.ID}.Prefix())
	b.notify(ctx, task.AssigneeID, messenger.Message{
		Text:    body,
		Buttons: []messenger.Button{{Label: labelComplete, Value: action.Action{Kind: action.Complete, ID: task.ID}.Encode()}},
	})
}

func (b *Bot) cmdReminder(ctx context.Context, in Inbound, args string) {
	text, at, ok := cutLast(args, reminderSeparators)
	text, at = strings.TrimSpace(text), strings.TrimSpace(at)
	if !ok || text == "" || at == "" {
		b.reply(ctx, in, messenger.Text(textReminderUsage))
		return
	}
	var rem domain.Reminder
	var err error
	if m := clockRe.FindStringSubmatch(at); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		rem, err = b.Registry.CreateReminder(ctx, in.SenderID, text, hour, minute)
	} else {
		fireAt, perr := b.parseWhen(at)
		if perr != nil {
			b.reply(ctx, in, messenger.Text(textReminderUsage))
			return
		}
		rem, err = b.Registry.CreateReminderAt(ctx, in.SenderID, text, fireAt)
	}
	if err != nil {
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	fireAt, _ := time.Parse(time.RFC3339, rem.FireAt)
	local := fireAt.In(b.Registry.Schedule.Location()).Format("2006-01-02 15:04")
	b.reply(ctx, in, messenger.Text(fmt.Sprintf("Напоминание #%d установлено на %s.", rem.ID, local)))
}

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(ru.All...)
	w.Add(common.All...)
	return w
}()

// parseWhen understands phrases like "tomorrow 9am" or "через 2 часа".
func (b *Bot) parseWhen(phrase string) (time.Time, error) {
	base := b.Registry.Clock().In(b.Registry.Schedule.Location())
	res, err := whenParser.Parse(phrase, base)
	if err != nil {
		return time.Time{}, err
	}
	if res == nil {
		return time.Time{}, errors.New("no time found")
	}
	return res.Time, nil
}

func (b *Bot) cmdAdmin(ctx context.Context, in Inbound, args string) {
	fields := strings.Fields(args)
	sub := ""
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
	}
	if err := b.Registry.RequireAdmin(ctx, in.SenderID, "admin "+sub); err != nil {
		b.Logger.Info().Str("sender", in.SenderID).Str("command", "admin "+sub).Msg("admin command denied")
		b.reply(ctx, in, messenger.Text(b.describe(err)))
		return
	}
	switch {
	case (sub == "add-responsible" || sub == "remove-responsible") && len(fields) == 3:
		team, member := strings.ToLower(fields[1]), resolveUser(fields[2], in.Mentions)
		var err error
		if sub == "add-responsible" {
			err = b.Registry.AddResponsible(ctx, in.SenderID, team, member)
		} else {
			err = b.Registry.RemoveResponsible(ctx, in.SenderID, team, member)
		}
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		ros, err := b.Registry.Roster(ctx)
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		b.reply(ctx, in, messenger.Text(fmt.Sprintf("Готово. %s: %s", teamName(team), joinIDs(ros.Team(team)))))
	case sub == "add-shift" && len(fields) == 4:
		s := domain.Shift{Date: fields[1], Team: strings.ToLower(fields[2]), MemberID: resolveUser(fields[3], in.Mentions)}
		if err := b.Registry.AddShift(ctx, in.SenderID, s); err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		b.reply(ctx, in, messenger.Text(fmt.Sprintf("Смена добавлена: %s, %s, %s.", s.Date, teamName(s.Team), s.MemberID)))
	case sub == "stats":
		st, err := b.Registry.Stats(ctx)
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		b.reply(ctx, in, messenger.Text(formatStats(st)))
	case sub == "workload":
		load, err := b.Registry.Workload(ctx)
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		b.reply(ctx, in, messenger.Text(formatWorkload(load)))
	default:
		b.reply(ctx, in, messenger.Text(adminUsage))
	}
}

func formatStats(st domain.Stats) string {
	return fmt.Sprintf(`Статистика:
Заявки: ожидают %d, в работе %d, завершены %d
Задачи: назначены %d, выполнены %d
Согласования: ожидают %d, согласованы %d, отклонены %d
Напоминания: ждут %d, отправлены %d`,
		st.Requests[domain.RequestPending], st.Requests[domain.RequestInProgress], st.Requests[domain.RequestCompleted],
		st.Tasks[domain.TaskAssigned], st.Tasks[domain.TaskDone],
		st.Approvals[domain.ApprovalPending], st.Approvals[domain.ApprovalApproved], st.Approvals[domain.ApprovalRejected],
		st.PendingReminders, st.SentReminders)
}

func formatWorkload(load []domain.Workload) string {
	if len(load) == 0 {
		return "Нагрузка: пока ничего не назначено."
	}
	var sb strings.Builder
	sb.WriteString("Нагрузка (в работе / сделано):")
	for _, w := range load {
		fmt.Fprintf(&sb, "\n%s: заявки %d/%d, задачи %d/%d", w.MemberID, w.OpenRequests, w.DoneRequests, w.OpenTasks, w.DoneTasks)
	}
	return sb.String()
}

// handleNote stores a comment or question and forwards it to the other side
// of the conversation.
func (b *Bot) handleNote(ctx context.Context, in Inbound, note action.Note) {
	var to string
	switch note.Kind {
	case action.CommentNote:
		_, req, err := b.Registry.CommentOnRequest(ctx, note.ID, in.SenderID, note.Text)
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		to = req.RequesterID
		if in.SenderID == req.RequesterID {
			to = req.Assignee()
		}
	case action.QuestionNote:
		_, task, err := b.Registry.AskOnTask(ctx, note.ID, in.SenderID, note.Text)
		if err != nil {
			b.reply(ctx, in, messenger.Text(b.describe(err)))
			return
		}
		to = task.CreatorID
		if in.SenderID == task.CreatorID {
			to = task.AssigneeID
		}
	}
	b.reply(ctx, in, messenger.Text("Сообщение сохранено."))
	if to != "" && to != in.SenderID {
		b.notify(ctx, to, messenger.Text(fmt.Sprintf("%s от %s\n%s\nОтветить: %s текст", note.Prefix(), in.SenderID, note.Text, note.Prefix())))
	}
}

// cutLast splits s around the last occurrence of any separator.
func cutLast(s string, seps []string) (before, after string, found bool) {
	best, sepLen := -1, 0
	for _, sep := range seps {
		if i := strings.LastIndex(s, sep); i > best {
			best, sepLen = i, len(sep)
		}
	}
	if best < 0 {
		return s, "", false
	}
	return s[:best], s[best+sepLen:], true
}

// resolveUser maps a tag from the message text to a user id through the
// message mentions, matching the placeholder key or the display name.
// Unmatched tags are used as raw ids without the leading @.
func resolveUser(tag string, mentions []Mention) string {
	name := strings.TrimPrefix(tag, "@")
	for _, m := range mentions {
		if m.ID == "" {
			continue
		}
		if m.Key == tag || strings.EqualFold(m.Name, name) {
			return m.ID
		}
	}
	return name
}

func teamName(team string) string {
	switch team {
	case domain.TeamDay:
		return "дневная смена"
	case domain.TeamNight:
		return "вечерняя смена"
	}
	return team
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return textNoResponsible
	}
	return strings.Join(ids, ", ")
}
