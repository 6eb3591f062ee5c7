package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/notify"
	"repairBack/internal/repair/store"
	"repairBack/internal/repair/workflow"
)

// Logger is the minimal logging interface required by the bot.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Workflow is the set of repair operations reachable from chat.
type Workflow interface {
	RegisterUser(ctx context.Context, in workflow.Registration) (store.User, error)
	ActorFor(userID int64) lifecycle.Actor
	User(id int64) (store.User, bool)
	CreateRequest(ctx context.Context, in workflow.NewRequest) (store.Request, error)
	Request(id int64) (store.Request, error)
	Requests(filter func(store.Request) bool) []store.Request
	CourierTasks(courierID int64) []store.DeliveryTask
	Handle(ctx context.Context, cmd lifecycle.Command) (lifecycle.Result, error)
	SubmitCode(ctx context.Context, requestID int64, actor lifecycle.Actor, code string) (lifecycle.Result, error)
	ResendCode(ctx context.Context, requestID int64, actor lifecycle.Actor) error
	CheckPayment(ctx context.Context, requestID int64, actor lifecycle.Actor) (workflow.PaymentState, error)
	PrepayDelivery(ctx context.Context, requestID int64, actor lifecycle.Actor) (store.Request, error)
	CheckDeliveryPayment(ctx context.Context, requestID int64, actor lifecycle.Actor) (bool, error)
}

// Config holds presentation settings of the bot.
type Config struct {
	Categories []string
	Currency   string
	// MaxPhotos bounds the photos attached to one request.
	MaxPhotos int
	// UpdateTimeout bounds the handling of a single update.
	UpdateTimeout time.Duration
	// Workers bounds the number of chats served at the same time.
	Workers int
}

// Bot turns chat updates into workflow calls.
type Bot struct {
	client   Client
	flow     Workflow
	sessions Sessions
	dir      notify.Directory
	cfg      Config
	logger   Logger
}

// New constructs a Bot.
func New(client Client, flow Workflow, sessions Sessions, dir notify.Directory, cfg Config, logger Logger) *Bot {
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{"Телефон", "Ноутбук", "Планшет", "Другое"}
	}
	if cfg.Currency == "" {
		cfg.Currency = "BYN"
	}
	if cfg.MaxPhotos <= 0 {
		cfg.MaxPhotos = 10
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	return &Bot{client: client, flow: flow, sessions: sessions, dir: dir, cfg: cfg, logger: logger}
}

// Run processes updates until ctx is cancelled or the channel is closed.
// Updates of one chat are handled in arrival order; different chats are
// served concurrently. Run returns once in-flight updates are done.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	l := newLanes(b.cfg.Workers)
	defer l.wait()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			l.submit(chatKey(upd), func() { b.safeHandle(ctx, upd) })
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.errorf("bot: update %d panicked: %v", upd.UpdateID, r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, b.cfg.UpdateTimeout)
	defer cancel()
	b.HandleUpdate(ctx, upd)
}

// HandleUpdate routes one update.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := chatID
	if msg.From != nil {
		userID = msg.From.ID
	}

	if msg.Contact != nil {
		b.register(ctx, chatID, userID, msg)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, chatID, userID, msg.Command())
		return
	}

	sess, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.errorf("bot: load session %d: %v", chatID, err)
		b.reply(ctx, chatID, apology)
		return
	}
	switch sess.Mode {
	case ModeNewCategory:
		b.chooseCategory(ctx, chatID, sess, strings.TrimSpace(msg.Text))
	case ModeNewDescription:
		b.describe(ctx, chatID, sess, msg.Text)
	case ModeNewPhotos:
		b.addPhoto(ctx, chatID, sess, msg)
	case ModeNewLocation:
		b.locate(ctx, chatID, userID, sess, msg)
	case ModePrice, ModeFinalPrice:
		b.enterPrice(ctx, chatID, userID, sess, msg.Text)
	case ModeCode:
		b.enterCode(ctx, chatID, userID, sess, msg.Text)
	default:
		if b.relay(ctx, chatID, userID, msg.Text) {
			return
		}
		b.reply(ctx, chatID, helpText)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID, userID int64, cmd string) {
	switch cmd {
	case "start":
		_ = b.sessions.Reset(ctx, chatID)
		if u, ok := b.flow.User(userID); ok && u.Phone != "" {
			b.reply(ctx, chatID, greeting(u.Role))
			return
		}
		if err := b.client.AskContact(ctx, chatID, "👋 Здравствуйте! Чтобы продолжить, поделитесь номером телефона."); err != nil {
			b.errorf("bot: ask contact %d: %v", chatID, err)
		}
	case "new":
		b.startDialog(ctx, chatID, userID)
	case "my":
		b.listRequests(ctx, chatID, userID)
	case "tasks":
		b.listTasks(ctx, chatID, userID)
	case "cancel":
		_ = b.sessions.Reset(ctx, chatID)
		if err := b.client.ClearKeyboard(ctx, chatID, "Действие отменено."); err != nil {
			b.errorf("bot: clear keyboard %d: %v", chatID, err)
		}
	default:
		b.reply(ctx, chatID, helpText)
	}
}

func (b *Bot) register(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) {
	c := msg.Contact
	if c.UserID != 0 && c.UserID != userID {
		b.reply(ctx, chatID, "Пожалуйста, отправьте свой собственный номер кнопкой ниже.")
		return
	}
	reg := workflow.Registration{
		ID:    userID,
		Name:  strings.TrimSpace(c.FirstName + " " + c.LastName),
		Phone: c.PhoneNumber,
	}
	if msg.From != nil {
		reg.Username = msg.From.UserName
	}
	u, err := b.flow.RegisterUser(ctx, reg)
	if err != nil {
		b.errorf("bot: register %d: %v", userID, err)
		b.reply(ctx, chatID, userText(err))
		return
	}
	if err := b.client.ClearKeyboard(ctx, chatID, greeting(u.Role)); err != nil {
		b.errorf("bot: greet %d: %v", chatID, err)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, chatID, text, nil)
}

func (b *Bot) send(ctx context.Context, chatID int64, text string, kb notify.Keyboard) {
	if _, err := b.client.SendMessage(ctx, chatID, text, kb); err != nil {
		b.errorf("bot: send to %d: %v", chatID, err)
	}
}

func (b *Bot) infof(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Infof(format, args...)
	}
}

func (b *Bot) errorf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Errorf(format, args...)
	}
}

const (
	helpText = "Команды:\n/new — новая заявка на ремонт\n/my — мои заявки\n/tasks — задачи доставки (для курьеров)\n/cancel — отменить текущее действие"
	apology  = "Произошла ошибка, мы уже разбираемся. Извините за неудобства."
)

func greeting(role fsm.Role) string {
	switch role {
	case fsm.RoleAdmin:
		return "Вы вошли как администратор. Новые заявки будут приходить сюда."
	case fsm.RoleSC:
		return "Вы вошли как сотрудник сервисного центра. Заявки вашего СЦ будут приходить сюда."
	case fsm.RoleDelivery:
		return "Вы вошли как курьер. Новые задачи доставки будут приходить сюда, список — /tasks."
	}
	return "✅ Готово! Чтобы оформить ремонт, отправьте /new.\n\n" + helpText
}

// userText picks the chat reply for a failed action.
func userText(err error) string {
	switch lifecycle.Classify(err) {
	case lifecycle.KindNotFound:
		return "Заявка не найдена."
	case lifecycle.KindIllegal:
		return "Кнопка устарела или действие сейчас недоступно."
	case lifecycle.KindExternal:
		return "Сервис временно недоступен, попробуйте позже."
	}
	return apology
}
