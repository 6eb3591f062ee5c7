package handoff

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"repairBack/internal/repair/sms"
	"repairBack/internal/repair/store"
)

// Delivery channels of a confirmation code.
const (
	ChannelSMS  = "sms"
	ChannelChat = "chat"
)

// ErrUndeliverable is returned when neither SMS nor chat could deliver the code.
var ErrUndeliverable = errors.New("handoff: code could not be delivered")

// OTPSender sends one-time codes by SMS.
type OTPSender interface {
	SendOTP(ctx context.Context, phone, template string) (sms.OTP, error)
}

// ChatSender delivers a plain text message in chat.
type ChatSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Logger is the minimal logging interface used by the issuer.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Issuer generates confirmation codes and delivers them to the recipient.
type Issuer struct {
	sms        OTPSender
	chat       ChatSender
	logger     Logger
	codeLength int
	hashCost   int
	timeout    time.Duration
	now        func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithHashCost sets the bcrypt cost.
func WithHashCost(cost int) Option { return func(i *Issuer) { i.hashCost = cost } }

// WithTimeout bounds the SMS gateway call.
func WithTimeout(d time.Duration) Option { return func(i *Issuer) { i.timeout = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

// NewIssuer constructs an Issuer. smsSender may be nil, then codes always go to chat.
func NewIssuer(smsSender OTPSender, chat ChatSender, logger Logger, codeLength int, opts ...Option) *Issuer {
	if codeLength <= 0 {
		codeLength = 4
	}
	i := &Issuer{
		sms:        smsSender,
		chat:       chat,
		logger:     logger,
		codeLength: codeLength,
		hashCost:   bcrypt.DefaultCost,
		timeout:    10 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a code for the handoff, delivers it and returns the record to store.
// The SMS gateway is tried first; on failure, a missing phone or a code that was
// already used for this request, a locally generated code is sent in chat.
func (i *Issuer) Issue(ctx context.Context, requestID int64, recipient store.User, purpose store.HandoffPurpose, used []string) (store.Handoff, error) {
	h := store.Handoff{Purpose: purpose, RecipientID: recipient.ID, IssuedAt: i.now()}

	if i.sms != nil && strings.TrimSpace(recipient.Phone) != "" {
		smsCtx, cancel := context.WithTimeout(ctx, i.timeout)
		otp, err := i.sms.SendOTP(smsCtx, recipient.Phone, smsTemplate(requestID, purpose))
		cancel()
		switch {
		case err != nil:
			i.logf("request %d: sms code failed, falling back to chat: %v", requestID, err)
		case otp.Code == "" || MatchesAny(used, otp.Code):
			i.logf("request %d: sms gateway returned an unusable code, falling back to chat", requestID)
		default:
			hash, err := Hash(otp.Code, i.hashCost)
			if err != nil {
				return store.Handoff{}, err
			}
			h.CodeHash = hash
			h.Channel = ChannelSMS
			h.SMSID = otp.SMSID
			return h, nil
		}
	}

	code, err := i.generate(used)
	if err != nil {
		return store.Handoff{}, err
	}
	if i.chat == nil {
		return store.Handoff{}, ErrUndeliverable
	}
	if err := i.chat.SendText(ctx, recipient.ID, chatText(requestID, purpose, code)); err != nil {
		return store.Handoff{}, fmt.Errorf("%w: %v", ErrUndeliverable, err)
	}
	hash, err := Hash(code, i.hashCost)
	if err != nil {
		return store.Handoff{}, err
	}
	h.CodeHash = hash
	h.Channel = ChannelChat
	return h, nil
}

func (i *Issuer) generate(used []string) (string, error) {
	for attempt := 0; attempt < 20; attempt++ {
		code, err := RandomCode(i.codeLength)
		if err != nil {
			return "", err
		}
		if !MatchesAny(used, code) {
			return code, nil
		}
	}
	return "", errors.New("handoff: could not generate a fresh code")
}

func (i *Issuer) logf(format string, args ...interface{}) {
	if i.logger != nil {
		i.logger.Errorf(format, args...)
	}
}

// RandomCode returns a numeric code of n digits.
func RandomCode(n int) (string, error) {
	var b strings.Builder
	for k := 0; k < n; k++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Hash returns the bcrypt hash of code.
func Hash(code string, cost int) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Matches reports whether code is the active code of h.
func Matches(h *store.Handoff, code string) bool {
	if h == nil || h.CodeHash == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h.CodeHash), []byte(code)) == nil
}

// MatchesAny reports whether code equals one of the hashed codes.
func MatchesAny(hashes []string, code string) bool {
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil {
			return true
		}
	}
	return false
}

func smsTemplate(requestID int64, purpose store.HandoffPurpose) string {
	if purpose == store.HandoffToClient {
		return fmt.Sprintf("Код получения устройства по заявке %d: {code}. Назовите его курьеру.", requestID)
	}
	return fmt.Sprintf("Код передачи устройства в СЦ по заявке %d: {code}", requestID)
}

func chatText(requestID int64, purpose store.HandoffPurpose, code string) string {
	if purpose == store.HandoffToClient {
		return fmt.Sprintf("🔐 Код получения устройства по заявке #%d: %s\nНазовите его курьеру при получении.", requestID, code)
	}
	return fmt.Sprintf("🔐 Код передачи устройства в СЦ по заявке #%d: %s\nПокажите его сотруднику сервисного центра.", requestID, code)
}
