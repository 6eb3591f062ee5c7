package bot

import (
	"context"
	"fmt"
	"strings"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/notify"
	"repairBack/internal/repair/store"
)

const listLimit = 20

func (b *Bot) listRequests(ctx context.Context, chatID, userID int64) {
	actor := b.flow.ActorFor(userID)
	items := b.flow.Requests(visibleTo(actor))
	if len(items) == 0 {
		b.reply(ctx, chatID, "Заявок пока нет.")
		return
	}
	if len(items) > listLimit {
		items = items[len(items)-listLimit:]
	}
	var sb strings.Builder
	sb.WriteString("Ваши заявки:\n")
	for i := len(items) - 1; i >= 0; i-- {
		req := items[i]
		fmt.Fprintf(&sb, "\n#%d · %s", req.ID, req.Status.Label())
		if req.Category != "" {
			fmt.Fprintf(&sb, " · %s", req.Category)
		}
	}
	b.reply(ctx, chatID, sb.String())
}

func visibleTo(actor lifecycle.Actor) func(store.Request) bool {
	return func(req store.Request) bool {
		switch actor.Role {
		case fsm.RoleAdmin:
			return !req.Status.Terminal()
		case fsm.RoleSC:
			return actor.SCID != 0 && req.SCID() == actor.SCID && !req.Status.Terminal()
		case fsm.RoleDelivery:
			return req.CourierID() == actor.ID && !req.Status.Terminal()
		}
		return req.UserID == actor.ID
	}
}

func (b *Bot) listTasks(ctx context.Context, chatID, userID int64) {
	actor := b.flow.ActorFor(userID)
	if actor.Role != fsm.RoleDelivery && actor.Role != fsm.RoleAdmin {
		b.reply(ctx, chatID, "Задачи доставки доступны только курьерам.")
		return
	}
	tasks := b.flow.CourierTasks(userID)
	if len(tasks) == 0 {
		b.reply(ctx, chatID, "Сейчас нет доступных задач.")
		return
	}
	for _, t := range tasks {
		text := fmt.Sprintf("🚚 Задача #%d (заявка #%d)\nОткуда: %s\nКуда: %s\nСтатус: %s",
			t.ID, t.RequestID, t.PickupAddress, t.DropoffAddress, t.Status)
		var kb notify.Keyboard
		if t.Status == fsm.TaskAvailable && actor.Role == fsm.RoleDelivery {
			if req, err := b.flow.Request(t.RequestID); err == nil {
				kb = notify.Keyboard{notify.Row(notify.EventBtn("🙋 Взять задачу", fsm.EventCourierAcceptPickup, req))}
			}
		}
		b.send(ctx, chatID, text, kb)
	}
}
