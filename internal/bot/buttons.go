package bot

import (
	"context"
	"fmt"

	"shiftbot/internal/action"
	"shiftbot/internal/domain"
	"shiftbot/internal/messenger"
	"shiftbot/internal/metrics"
)

// HandleAction applies one button click. Every click gets an answer, including
// values that do not decode.
func (b *Bot) HandleAction(ctx context.Context, ev ActionEvent) {
	a, err := action.Decode(ev.Value)
	if err != nil {
		metrics.RecordAction("unknown", "malformed")
		b.Logger.Info().Str("action", ev.Value).Str("operator", ev.OperatorID).Msg("action not understood")
		b.notify(ctx, ev.OperatorID, messenger.Text(textNotUnderstood))
		return
	}
	b.Logger.Debug().Str("action", a.Encode()).Str("operator", ev.OperatorID).Msg("action")
	var handle func(context.Context, string, action.Action) error
	switch a.Kind {
	case action.Take:
		handle = b.take
	case action.Approve:
		handle = b.offerApprovers
	case action.NoApprove:
		handle = b.offerFinish
	case action.Route:
		handle = b.route
	case action.Accept, action.Reject:
		handle = b.resolve
	case action.Finish:
		handle = b.finish
	case action.Complete:
		handle = b.complete
	}
	if err := handle(ctx, ev.OperatorID, a); err != nil {
		metrics.RecordAction(string(a.Kind), "rejected")
		b.notify(ctx, ev.OperatorID, messenger.Text(b.describe(err)))
		return
	}
	metrics.RecordAction(string(a.Kind), "ok")
}

func button(label string, kind action.Kind, id int64) messenger.Button {
	return messenger.Button{Label: label, Value: action.Action{Kind: kind, ID: id}.Encode()}
}

func (b *Bot) take(ctx context.Context, operator string, a action.Action) error {
	req, err := b.Registry.TakeRequest(ctx, a.ID, operator)
	if err != nil {
		return err
	}
	b.notify(ctx, req.RequesterID, messenger.Text(fmt.Sprintf(
		"Ваша заявка #%d взята в работу, исполнитель %s.\nКомментарий: %s текст",
		req.ID, operator, action.Note{Kind: action.CommentNote, ID: req.ID}.Prefix())))
	b.notify(ctx, operator, messenger.Message{
		Text: fmt.Sprintf("Заявка #%d теперь ваша:\n%s\nНужно согласование?", req.ID, req.Text),
		Buttons: []messenger.Button{
			button(labelApprove, action.Approve, req.ID),
			button(labelNoApprove, action.NoApprove, req.ID),
		},
	})
	return nil
}

func (b *Bot) offerApprovers(ctx context.Context, operator string, a action.Action) error {
	req, err := b.Registry.GetRequest(ctx, a.ID)
	if err != nil {
		return err
	}
	approvers := b.Approvers
	if len(approvers) == 0 {
		if approvers, err = b.Registry.Admins(ctx); err != nil {
			return err
		}
	}
	if len(approvers) == 0 {
		b.notify(ctx, operator, messenger.Text(textNoApprovers))
		return nil
	}
	buttons := make([]messenger.Button, 0, len(approvers))
	for _, id := range approvers {
		buttons = append(buttons, messenger.Button{
			Label: id,
			Value: action.Action{Kind: action.Route, ID: req.ID, Target: id}.Encode(),
		})
	}
	b.notify(ctx, operator, messenger.Message{Text: fmt.Sprintf("Кому отправить заявку #%d на согласование?", req.ID), Buttons: buttons})
	return nil
}

func (b *Bot) offerFinish(ctx context.Context, operator string, a action.Action) error {
	req, err := b.Registry.GetRequest(ctx, a.ID)
	if err != nil {
		return err
	}
	b.notify(ctx, operator, messenger.Message{
		Text:    fmt.Sprintf("Заявка #%d без согласования. Нажмите, когда закончите.", req.ID),
		Buttons: []messenger.Button{button(labelFinish, action.Finish, req.ID)},
	})
	return nil
}

func (b *Bot) route(ctx context.Context, operator string, a action.Action) error {
	ap, req, err := b.Registry.CreateApproval(ctx, a.ID, a.Target, operator)
	if err != nil {
		return err
	}
	b.notify(ctx, ap.ApproverID, messenger.Message{
		Text: fmt.Sprintf("Согласуйте заявку #%d от %s (исполнитель %s):\n%s", req.ID, req.RequesterID, req.Assignee(), req.Text),
		Buttons: []messenger.Button{
			button(labelAccept, action.Accept, ap.ID),
			button(labelReject, action.Reject, ap.ID),
		},
	})
	b.notify(ctx, operator, messenger.Text(fmt.Sprintf("Заявка #%d отправлена на согласование %s.", req.ID, ap.ApproverID)))
	return nil
}

func (b *Bot) resolve(ctx context.Context, operator string, a action.Action) error {
	ap, req, err := b.Registry.ResolveApproval(ctx, a.ID, a.Kind == action.Accept, operator, "")
	if err != nil {
		return err
	}
	if ap.Status == domain.ApprovalApproved {
		b.notify(ctx, req.Assignee(), messenger.Message{
			Text:    fmt.Sprintf("Заявка #%d %s (%s). Можно завершать.", req.ID, textNoticeApproved, operator),
			Buttons: []messenger.Button{button(labelFinish, action.Finish, req.ID)},
		})
	} else {
		b.notify(ctx, req.Assignee(), messenger.Text(fmt.Sprintf("Заявка #%d %s (%s).", req.ID, textNoticeRejected, operator)))
	}
	b.notify(ctx, operator, messenger.Text(fmt.Sprintf("Решение по заявке #%d сохранено: %s.", req.ID, statusName(ap.Status))))
	return nil
}

func (b *Bot) finish(ctx context.Context, operator string, a action.Action) error {
	req, err := b.Registry.FinishRequest(ctx, a.ID, operator)
	if err != nil {
		return err
	}
	b.notify(ctx, req.RequesterID, messenger.Text(fmt.Sprintf("Ваша заявка #%d выполнена.", req.ID)))
	b.notify(ctx, operator, messenger.Text(fmt.Sprintf("Заявка #%d закрыта.", req.ID)))
	return nil
}

func (b *Bot) complete(ctx context.Context, operator string, a action.Action) error {
	task, err := b.Registry.CompleteTask(ctx, a.ID, operator)
	if err != nil {
		return err
	}
	b.notify(ctx, task.CreatorID, messenger.Text(fmt.Sprintf("Задача #%d выполнена (%s):\n%s", task.ID, operator, task.Text)))
	if operator != task.CreatorID {
		b.notify(ctx, operator, messenger.Text(fmt.Sprintf("Задача #%d отмечена выполненной.", task.ID)))
	}
	return nil
}
