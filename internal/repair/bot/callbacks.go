package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repairBack/internal/repair/callback"
	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/workflow"
)

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	userID := q.From.ID
	chatID := userID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}

	action, err := callback.Decode(q.Data)
	if err != nil {
		b.answer(ctx, q.ID, "Кнопка недействительна.")
		return
	}
	actor := b.flow.ActorFor(userID)

	switch action.Kind {
	case callback.KindCategory:
		idx, err := strconv.Atoi(action.Extra)
		if err != nil || idx < 0 || idx >= len(b.cfg.Categories) {
			b.answer(ctx, q.ID, "Кнопка недействительна.")
			return
		}
		sess, err := b.sessions.Get(ctx, chatID)
		if err != nil || sess.Mode != ModeNewCategory {
			b.answer(ctx, q.ID, "Начните новую заявку командой /new.")
			return
		}
		b.answer(ctx, q.ID, "")
		b.chooseCategory(ctx, chatID, sess, b.cfg.Categories[idx])

	case callback.KindPhotosDone:
		b.answer(ctx, q.ID, "")
		b.photosDone(ctx, chatID)

	case callback.KindPricePrompt, callback.KindFinalPricePrompt:
		mode, text := ModePrice, "Введите стоимость ремонта в "+b.cfg.Currency+", например 120.50"
		if action.Kind == callback.KindFinalPricePrompt {
			mode, text = ModeFinalPrice, "Введите итоговую стоимость ремонта в "+b.cfg.Currency
		}
		b.prompt(ctx, q.ID, chatID, actor, action, mode, text)

	case callback.KindCodePrompt:
		b.prompt(ctx, q.ID, chatID, actor, action, ModeCode, "Введите код подтверждения.")

	case callback.KindCodeResend:
		if err := b.flow.ResendCode(ctx, action.RequestID, actor); err != nil {
			b.answer(ctx, q.ID, userText(err))
			return
		}
		b.answer(ctx, q.ID, "Новый код отправлен.")

	case callback.KindPayCheck:
		state, err := b.flow.CheckPayment(ctx, action.RequestID, actor)
		if err != nil {
			b.answer(ctx, q.ID, userText(err))
			return
		}
		switch state {
		case workflow.PaymentPaid:
			b.answer(ctx, q.ID, "✅ Оплата получена.")
		case workflow.PaymentFailed:
			b.answer(ctx, q.ID, "❌ Оплата не прошла.")
		default:
			b.answer(ctx, q.ID, "Оплата ещё не поступила.")
		}

	case callback.KindPrepay:
		if _, err := b.flow.PrepayDelivery(ctx, action.RequestID, actor); err != nil {
			b.answer(ctx, q.ID, userText(err))
			return
		}
		b.answer(ctx, q.ID, "")

	case callback.KindPrepayCheck:
		paid, err := b.flow.CheckDeliveryPayment(ctx, action.RequestID, actor)
		if err != nil {
			b.answer(ctx, q.ID, userText(err))
			return
		}
		if paid {
			b.answer(ctx, q.ID, "✅ Доставка оплачена.")
			return
		}
		b.answer(ctx, q.ID, "Оплата доставки ещё не поступила.")

	case callback.KindContact:
		b.answer(ctx, q.ID, "")
		b.sendContact(ctx, chatID, actor, action.RequestID)

	default:
		b.applyEvent(ctx, q, chatID, actor, action)
	}
}

func (b *Bot) applyEvent(ctx context.Context, q *tgbotapi.CallbackQuery, chatID int64, actor lifecycle.Actor, action callback.Action) {
	cmd := lifecycle.Command{
		RequestID: action.RequestID,
		Event:     fsm.Event(action.Kind),
		Actor:     actor,
		Version:   action.Version,
	}
	if cmd.Event.Internal() {
		b.answer(ctx, q.ID, "Кнопка недействительна.")
		return
	}
	if cmd.Event == fsm.EventAdminSendToSC {
		scID, err := action.ExtraInt()
		if err != nil {
			b.answer(ctx, q.ID, "Кнопка недействительна.")
			return
		}
		cmd.SCID = scID
	}
	if _, err := b.flow.Handle(ctx, cmd); err != nil {
		if kind := lifecycle.Classify(err); kind == lifecycle.KindUnknown || kind == lifecycle.KindPersistence {
			b.errorf("bot: %s on request %d by %d: %v", cmd.Event, cmd.RequestID, actor.ID, err)
		}
		b.answer(ctx, q.ID, userText(err))
		return
	}
	b.answer(ctx, q.ID, "✅ Готово")
	b.dropButtons(ctx, chatID, q.Message)
}

// prompt switches the chat into an input mode bound to the request version on the button.
func (b *Bot) prompt(ctx context.Context, callbackID string, chatID int64, actor lifecycle.Actor, action callback.Action, mode Mode, text string) {
	req, err := b.flow.Request(action.RequestID)
	if err != nil {
		b.answer(ctx, callbackID, userText(err))
		return
	}
	// Codes are checked against the active handoff, prices against the version.
	if mode != ModeCode && action.Version != 0 && req.Version != action.Version {
		b.answer(ctx, callbackID, userText(lifecycle.ErrInvalidTransition))
		return
	}
	sess := Session{Mode: mode, RequestID: req.ID, Version: action.Version}
	if err := b.sessions.Save(ctx, chatID, sess); err != nil {
		b.errorf("bot: save session %d: %v", chatID, err)
		b.answer(ctx, callbackID, apology)
		return
	}
	b.answer(ctx, callbackID, "")
	b.reply(ctx, chatID, fmt.Sprintf("Заявка #%d. %s", req.ID, text))
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.client.AnswerCallback(ctx, callbackID, text); err != nil {
		b.errorf("bot: answer callback %s: %v", callbackID, err)
	}
}

func (b *Bot) dropButtons(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	if msg == nil || msg.Text == "" {
		return
	}
	if err := b.client.EditMessage(ctx, chatID, msg.MessageID, msg.Text, nil); err != nil {
		b.errorf("bot: edit message %d in %d: %v", msg.MessageID, chatID, err)
	}
}

func (b *Bot) sendContact(ctx context.Context, chatID int64, actor lifecycle.Actor, requestID int64) {
	if actor.Role != fsm.RoleAdmin && actor.Role != fsm.RoleDelivery && actor.Role != fsm.RoleSC {
		b.reply(ctx, chatID, userText(lifecycle.ErrInvalidTransition))
		return
	}
	req, err := b.flow.Request(requestID)
	if err != nil {
		b.reply(ctx, chatID, userText(err))
		return
	}
	u, ok := b.dir.User(req.UserID)
	if !ok {
		b.reply(ctx, chatID, fmt.Sprintf("Контакты клиента по заявке #%d не найдены.", req.ID))
		return
	}
	text := fmt.Sprintf("Клиент по заявке #%d: %s", req.ID, u.Name)
	if u.Phone != "" {
		text += "\nТелефон: " + u.Phone
	}
	if u.Username != "" {
		text += "\nTelegram: @" + u.Username
	}
	b.reply(ctx, chatID, text)
}
