package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repairBack/internal/repair/callback"
	"repairBack/internal/repair/notify"
	"repairBack/internal/repair/store"
	"repairBack/internal/repair/workflow"
)

func (b *Bot) startDialog(ctx context.Context, chatID, userID int64) {
	if u, ok := b.flow.User(userID); !ok || u.Phone == "" {
		if err := b.client.AskContact(ctx, chatID, "Перед оформлением заявки поделитесь номером телефона."); err != nil {
			b.errorf("bot: ask contact %d: %v", chatID, err)
		}
		return
	}
	if err := b.sessions.Save(ctx, chatID, Session{Mode: ModeNewCategory}); err != nil {
		b.errorf("bot: save session %d: %v", chatID, err)
		b.reply(ctx, chatID, apology)
		return
	}
	b.send(ctx, chatID, "Что нужно отремонтировать? Выберите категорию или напишите свою.", b.categoryKeyboard())
}

func (b *Bot) categoryKeyboard() notify.Keyboard {
	kb := notify.Keyboard{}
	for i, name := range b.cfg.Categories {
		data := callback.Encode(callback.Action{Kind: callback.KindCategory, Extra: strconv.Itoa(i)})
		kb = append(kb, notify.Row(notify.Button{Text: name, Data: data}))
	}
	return kb
}

func (b *Bot) chooseCategory(ctx context.Context, chatID int64, sess Session, category string) {
	if category == "" {
		b.reply(ctx, chatID, "Выберите категорию кнопкой или напишите её текстом.")
		return
	}
	sess.Draft.Category = category
	sess.Mode = ModeNewDescription
	if err := b.sessions.Save(ctx, chatID, sess); err != nil {
		b.errorf("bot: save session %d: %v", chatID, err)
		b.reply(ctx, chatID, apology)
		return
	}
	b.reply(ctx, chatID, "Опишите неисправность: что случилось и как проявляется.")
}

func (b *Bot) describe(ctx context.Context, chatID int64, sess Session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		b.reply(ctx, chatID, "Пожалуйста, опишите неисправность текстом.")
		return
	}
	sess.Draft.Description = text
	sess.Mode = ModeNewPhotos
	if err := b.sessions.Save(ctx, chatID, sess); err != nil {
		b.errorf("bot: save session %d: %v", chatID, err)
		b.reply(ctx, chatID, apology)
		return
	}
	b.send(ctx, chatID, "Пришлите фото устройства (можно несколько) и нажмите «Готово». Фото можно пропустить.", photosKeyboard())
}

func photosKeyboard() notify.Keyboard {
	data := callback.Encode(callback.Action{Kind: callback.KindPhotosDone})
	return notify.Keyboard{notify.Row(notify.Button{Text: "✅ Готово", Data: data})}
}

func (b *Bot) addPhoto(ctx context.Context, chatID int64, sess Session, msg *tgbotapi.Message) {
	if len(msg.Photo) == 0 {
		b.send(ctx, chatID, "Пришлите фото или нажмите «Готово».", photosKeyboard())
		return
	}
	if len(sess.Draft.Photos) >= b.cfg.MaxPhotos {
		b.send(ctx, chatID, "Достаточно фото, нажмите «Готово».", photosKeyboard())
		return
	}
	// The last size is the largest one.
	sess.Draft.Photos = append(sess.Draft.Photos, msg.Photo[len(msg.Photo)-1].FileID)
	if err := b.sessions.Save(ctx, chatID, sess); err != nil {
		b.errorf("bot: save session %d: %v", chatID, err)
		b.reply(ctx, chatID, apology)
	}
}

func (b *Bot) photosDone(ctx context.Context, chatID int64) {
	sess, err := b.sessions.Get(ctx, chatID)
	if err != nil || sess.Mode != ModeNewPhotos {
		b.reply(ctx, chatID, "Начните новую заявку командой /new.")
		return
	}
	sess.Mode = ModeNewLocation
	if err := b.sessions.Save(ctx, chatID, sess); err != nil {
		b.errorf("bot: save session %d: %v", chatID, err)
		b.reply(ctx, chatID, apology)
		return
	}
	if err := b.client.AskLocation(ctx, chatID, "Откуда забрать устройство? Отправьте геолокацию кнопкой или напишите адрес."); err != nil {
		b.errorf("bot: ask location %d: %v", chatID, err)
	}
}

func (b *Bot) locate(ctx context.Context, chatID, userID int64, sess Session, msg *tgbotapi.Message) {
	var loc store.Location
	switch {
	case msg.Location != nil:
		lat, lon := msg.Location.Latitude, msg.Location.Longitude
		loc.Latitude, loc.Longitude = &lat, &lon
	case strings.TrimSpace(msg.Text) != "":
		loc.Address = strings.TrimSpace(msg.Text)
	default:
		b.reply(ctx, chatID, "Отправьте геолокацию или напишите адрес текстом.")
		return
	}

	if err := b.client.ClearKeyboard(ctx, chatID, "📍 Адрес получен, оформляем заявку…"); err != nil {
		b.errorf("bot: clear keyboard %d: %v", chatID, err)
	}
	req, err := b.flow.CreateRequest(ctx, workflow.NewRequest{
		UserID:      userID,
		Category:    sess.Draft.Category,
		Description: sess.Draft.Description,
		Photos:      sess.Draft.Photos,
		Location:    loc,
	})
	if err != nil {
		b.errorf("bot: create request for %d: %v", userID, err)
		b.reply(ctx, chatID, userText(err))
		return
	}
	if err := b.sessions.Reset(ctx, chatID); err != nil {
		b.errorf("bot: reset session %d: %v", chatID, err)
	}
	b.infof("bot: request %d created from chat %d", req.ID, chatID)
}
