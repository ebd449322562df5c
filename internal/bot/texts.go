package bot

const helpText = `Доступные команды:

/help, /помощь - показать это сообщение
/shift [ГГГГ-ММ-ДД], /смена - кто на смене
/responsible, /ответственные - кто сейчас принимает заявки
/request <текст>, /заявка - создать заявку
/helper, /помощник - памятка для ответственных
/task <текст> for @сотрудник [ГГГГ-ММ-ДД], /задача ... для ... - поставить задачу
/reminder <текст> at ЧЧ:ММ, /напоминание ... в ... - напоминание
/admin <действие>, /админ - администрирование (только для админов)`

const helperText = `Памятка ответственного:

1. Новая заявка приходит с кнопкой «Взять». Нажмите, чтобы взять её в работу.
2. После этого выберите «Нужно согласование» или «Без согласования».
3. Для согласования выберите согласующего; он получит кнопки «Согласовать» и «Отклонить».
4. Когда работа сделана, нажмите «Завершить». Автор заявки получит уведомление.

Комментарий к заявке: #comment_<номер>: текст
Вопрос по задаче: #question_<номер>: текст`

const adminUsage = `Действия администратора:
/admin add-responsible <day|night> @сотрудник
/admin remove-responsible <day|night> @сотрудник
/admin add-shift <ГГГГ-ММ-ДД> <day|night> @сотрудник
/admin stats
/admin workload`

const (
	textOnlyCommands   = "Я понимаю только команды. Введите /help для списка команд."
	textOnlyText       = "Поддерживаются только текстовые сообщения."
	textNotUnderstood  = "Действие не распознано."
	textDenied         = "Недостаточно прав для этой команды."
	textInternal       = "Что-то пошло не так, попробуйте позже."
	textRequestUsage   = "Укажите текст заявки: /request <текст>"
	textTaskUsage      = "Формат: /task <текст> for @сотрудник [ГГГГ-ММ-ДД]"
	textReminderUsage  = "Формат: /reminder <текст> at ЧЧ:ММ"
	textBadDate        = "Дата должна быть в формате ГГГГ-ММ-ДД."
	textNoApprovers    = "Согласующие не настроены."
	textNoResponsible  = "Сейчас никто не назначен."
	textNoticeApproved = "согласована"
	textNoticeRejected = "отклонена"

	labelTake      = "Взять"
	labelApprove   = "Нужно согласование"
	labelNoApprove = "Без согласования"
	labelAccept    = "Согласовать"
	labelReject    = "Отклонить"
	labelFinish    = "Завершить"
	labelComplete  = "Выполнено"
)
