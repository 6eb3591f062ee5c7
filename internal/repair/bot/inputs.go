package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/pricing"
	"repairBack/internal/repair/store"
)

func (b *Bot) enterPrice(ctx context.Context, chatID, userID int64, sess Session, text string) {
	amount, err := parseAmount(text)
	if err != nil {
		b.reply(ctx, chatID, "Не удалось распознать сумму. Введите число, например 120.50")
		return
	}
	ev := fsm.EventSCSetPrice
	if sess.Mode == ModeFinalPrice {
		ev = fsm.EventSCSetFinalPrice
	}
	actor := b.flow.ActorFor(userID)
	_, err = b.flow.Handle(ctx, lifecycle.Command{
		RequestID: sess.RequestID,
		Event:     ev,
		Actor:     actor,
		Version:   sess.Version,
		Amount:    amount,
	})
	if resetErr := b.sessions.Reset(ctx, chatID); resetErr != nil {
		b.errorf("bot: reset session %d: %v", chatID, resetErr)
	}
	if err != nil {
		b.reply(ctx, chatID, userText(err))
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Стоимость %s отправлена клиенту на согласование.", pricing.Format(amount, b.cfg.Currency)))
}

func parseAmount(text string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(text)
	clean = strings.TrimSuffix(strings.ToUpper(clean), "BYN")
	clean = strings.ReplaceAll(strings.TrimSpace(clean), " ", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	amount, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("amount must be positive")
	}
	return amount.Round(2), nil
}

func (b *Bot) enterCode(ctx context.Context, chatID, userID int64, sess Session, text string) {
	code := strings.TrimSpace(text)
	if code == "" {
		b.reply(ctx, chatID, "Введите код цифрами.")
		return
	}
	res, err := b.flow.SubmitCode(ctx, sess.RequestID, b.flow.ActorFor(userID), code)
	if err != nil {
		if resetErr := b.sessions.Reset(ctx, chatID); resetErr != nil {
			b.errorf("bot: reset session %d: %v", chatID, resetErr)
		}
		b.reply(ctx, chatID, userText(err))
		return
	}
	// A wrong code keeps the chat in code mode so the next message is another attempt.
	if res.Has(lifecycle.EffectCodeMismatch) {
		return
	}
	if err := b.sessions.Reset(ctx, chatID); err != nil {
		b.errorf("bot: reset session %d: %v", chatID, err)
	}
}

// relay forwards free text between the client and SC staff while a price is negotiated.
func (b *Bot) relay(ctx context.Context, chatID, userID int64, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	requestID, ok, err := b.sessions.Relay(ctx, chatID)
	if err != nil {
		b.errorf("bot: relay lookup %d: %v", chatID, err)
		return false
	}
	if !ok {
		return false
	}
	req, err := b.flow.Request(requestID)
	if err != nil || !negotiating(req) {
		return false
	}

	staff := b.dir.SCStaff(req.SCID())
	var (
		targets []int64
		from    string
	)
	if userID == req.UserID {
		targets, from = staff, "Клиент"
	} else {
		from = "Сервисный центр"
		targets = append(targets, req.UserID)
		for _, id := range staff {
			if id != userID {
				targets = append(targets, id)
			}
		}
	}
	msg := fmt.Sprintf("💬 %s (заявка #%d): %s", from, req.ID, text)
	for _, id := range targets {
		b.reply(ctx, id, msg)
	}
	return true
}

func negotiating(req store.Request) bool {
	return req.Status == fsm.StatusPriceNegotiation || req.Status == fsm.StatusFinalPriceNegotiation
}
