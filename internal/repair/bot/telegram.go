package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repairBack/internal/repair/notify"
)

// Client is everything the bot needs from the messaging platform.
type Client interface {
	notify.Messenger
	AnswerCallback(ctx context.Context, callbackID, text string) error
	AskContact(ctx context.Context, chatID int64, text string) error
	AskLocation(ctx context.Context, chatID int64, text string) error
	ClearKeyboard(ctx context.Context, chatID int64, text string) error
}

// TelegramMessenger sends messages through the Telegram Bot API.
type TelegramMessenger struct {
	api *tgbotapi.BotAPI
}

// NewTelegramMessenger wraps an authorized bot API client.
func NewTelegramMessenger(api *tgbotapi.BotAPI) *TelegramMessenger {
	return &TelegramMessenger{api: api}
}

func (m *TelegramMessenger) SendMessage(ctx context.Context, chatID int64, text string, kb notify.Keyboard) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if markup, ok := inlineMarkup(kb); ok {
		msg.ReplyMarkup = markup
	}
	sent, err := m.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	return sent.MessageID, nil
}

func (m *TelegramMessenger) SendPhoto(ctx context.Context, chatID int64, fileID, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
	photo.Caption = caption
	if _, err := m.api.Send(photo); err != nil {
		return fmt.Errorf("telegram photo: %w", err)
	}
	return nil
}

func (m *TelegramMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string, kb notify.Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if markup, ok := inlineMarkup(kb); ok {
		edit.ReplyMarkup = &markup
	}
	if _, err := m.api.Send(edit); err != nil {
		return fmt.Errorf("telegram edit: %w", err)
	}
	return nil
}

func (m *TelegramMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.api.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

func (m *TelegramMessenger) AskContact(ctx context.Context, chatID int64, text string) error {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonContact("📱 Поделиться номером"),
	))
	kb.OneTimeKeyboard = true
	return m.sendReply(ctx, chatID, text, kb)
}

func (m *TelegramMessenger) AskLocation(ctx context.Context, chatID int64, text string) error {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonLocation("📍 Отправить геолокацию"),
	))
	kb.OneTimeKeyboard = true
	return m.sendReply(ctx, chatID, text, kb)
}

func (m *TelegramMessenger) ClearKeyboard(ctx context.Context, chatID int64, text string) error {
	return m.sendReply(ctx, chatID, text, tgbotapi.NewRemoveKeyboard(true))
}

func (m *TelegramMessenger) sendReply(ctx context.Context, chatID int64, text string, markup interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := m.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func inlineMarkup(kb notify.Keyboard) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(kb) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
