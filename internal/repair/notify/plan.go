package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"repairBack/internal/repair/callback"
	"repairBack/internal/repair/fsm"
	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/pricing"
	"repairBack/internal/repair/store"
)

// Planner turns committed transitions into messages. It has no side effects.
type Planner struct {
	Currency string
}

type plan struct {
	msgs []Message
}

func (p *plan) to(ids []int64, text string, kb Keyboard) {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		p.msgs = append(p.msgs, Message{ChatID: id, Text: text, Keyboard: kb})
	}
}

func (p *plan) one(id int64, text string, kb Keyboard) {
	p.to([]int64{id}, text, kb)
}

func (pl Planner) money(v decimal.Decimal) string {
	return pricing.Format(v, pl.Currency)
}

// Summary renders the request card.
func Summary(req store.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Заявка #%d\n", req.ID)
	if req.Category != "" {
		fmt.Fprintf(&b, "Категория: %s\n", req.Category)
	}
	fmt.Fprintf(&b, "Описание: %s\n", req.Description)
	fmt.Fprintf(&b, "Адрес: %s\n", req.Location.String())
	fmt.Fprintf(&b, "Статус: %s", req.Status.Label())
	return b.String()
}

func scName(dir Directory, id int64) string {
	if sc, ok := dir.ServiceCenter(id); ok {
		return sc.Name
	}
	return "сервисный центр"
}

func userName(dir Directory, id int64) string {
	if u, ok := dir.User(id); ok && u.Name != "" {
		return u.Name
	}
	return "курьер"
}

func scChoice(req store.Request, dir Directory, skip int64) Keyboard {
	kb := Keyboard{}
	for _, sc := range dir.ServiceCenters() {
		if sc.ID == skip {
			continue
		}
		kb = append(kb, Row(Btn("➡️ "+sc.Name, string(fsm.EventAdminSendToSC), req, strconv.FormatInt(sc.ID, 10))))
	}
	kb = append(kb, Row(EventBtn("❌ Отклонить заявку", fsm.EventAdminReject, req)))
	return kb
}

// PlanCreated plans the notifications for a freshly submitted request.
func (pl Planner) PlanCreated(req store.Request, dir Directory) []Message {
	p := &plan{}
	p.one(req.UserID, fmt.Sprintf("✅ Заявка #%d создана. Мы подберём сервисный центр и сообщим стоимость.", req.ID), nil)
	p.to(dir.Admins(), "🆕 Новая заявка\n"+Summary(req)+"\n\nВыберите сервисный центр:", scChoice(req, dir, 0))
	if len(req.Photos) > 0 {
		for i := range p.msgs {
			if p.msgs[i].ChatID != req.UserID {
				p.msgs[i].Photos = req.Photos
			}
		}
	}
	return p.msgs
}

// Plan returns the messages caused by a committed transition.
func (pl Planner) Plan(res lifecycle.Result, dir Directory) []Message {
	req := res.Request
	p := &plan{}
	admins := dir.Admins()
	staff := dir.SCStaff(req.SCID())
	client := req.UserID
	courier := req.CourierID()

	if e, ok := res.Effect(lifecycle.EffectEscalate); ok {
		p.one(res.Actor.ID, "⛔ Превышено число попыток ввода кода. Код заблокирован, администратор свяжется с вами.", nil)
		p.to(admins, fmt.Sprintf("⚠️ Заявка #%d: превышено число попыток ввода кода (%s). Выдайте новый код.", req.ID, e.Purpose),
			Keyboard{Row(Btn("🔁 Выдать новый код", callback.KindCodeResend, req, ""), Btn("📞 Связаться с клиентом", callback.KindContact, req, ""))})
		return p.msgs
	}
	if e, ok := res.Effect(lifecycle.EffectCodeMismatch); ok {
		p.one(res.Actor.ID, fmt.Sprintf("❗ Неверный код. Осталось попыток: %d", e.Remaining),
			Keyboard{Row(Btn("🔢 Ввести код ещё раз", callback.KindCodePrompt, req, ""))})
		return p.msgs
	}

	switch res.Event {
	case fsm.EventAdminSendToSC:
		p.to(staff, "📥 Новая заявка для вашего сервисного центра\n"+Summary(req),
			Keyboard{Row(EventBtn("✅ Принять", fsm.EventSCAccept, req), EventBtn("❌ Отказаться", fsm.EventSCReject, req))})
		for i := range p.msgs {
			p.msgs[i].Photos = req.Photos
		}
		p.one(client, fmt.Sprintf("📨 Заявка #%d передана в сервисный центр «%s».", req.ID, scName(dir, req.SCID())), nil)

	case fsm.EventSCAccept:
		name := scName(dir, req.SCID())
		p.one(client, fmt.Sprintf("🛠 Сервисный центр «%s» принял заявку #%d и скоро сообщит стоимость ремонта.", name, req.ID), nil)
		p.to(staff, fmt.Sprintf("Заявка #%d принята. Укажите предварительную стоимость ремонта.", req.ID),
			Keyboard{Row(Btn("💰 Указать стоимость", callback.KindPricePrompt, req, ""))})
		p.to(admins, fmt.Sprintf("СЦ «%s» принял заявку #%d.", name, req.ID), nil)

	case fsm.EventSCReject:
		p.to(admins, fmt.Sprintf("↩️ СЦ «%s» отказался от заявки #%d. Выберите другой сервисный центр:", scName(dir, res.Actor.SCID), req.ID),
			scChoice(req, dir, res.Actor.SCID))

	case fsm.EventSCSetPrice:
		total := pricing.AmountDue(req.RepairPrice, req.DeliveryCost, req.DeliveryPaid)
		p.one(client, fmt.Sprintf("💰 Стоимость ремонта по заявке #%d: %s\nДоставка: %s\nИтого: %s\n\nСогласны?",
			req.ID, pl.money(req.RepairPrice), pl.money(req.DeliveryCost), pl.money(total)),
			Keyboard{Row(EventBtn("✅ Согласен", fsm.EventClientApprovePrice, req), EventBtn("❌ Не согласен", fsm.EventClientRejectPrice, req))})
		p.to(staff, fmt.Sprintf("Стоимость %s по заявке #%d отправлена клиенту.", pl.money(req.RepairPrice), req.ID), nil)

	case fsm.EventClientRejectPrice:
		p.one(client, "💬 Открыт чат с сервисным центром. Напишите ваше сообщение, мы перешлём его.", nil)
		p.to(staff, fmt.Sprintf("💬 Клиент не согласен с ценой по заявке #%d. Открыт чат с клиентом, сообщения будут пересылаться.", req.ID),
			Keyboard{Row(Btn("💰 Указать новую стоимость", callback.KindPricePrompt, req, ""))})
		p.to(admins, fmt.Sprintf("Клиент отклонил цену по заявке #%d, идёт обсуждение.", req.ID), nil)

	case fsm.EventClientApprovePrice:
		p.to(staff, fmt.Sprintf("✅ Клиент согласовал стоимость по заявке #%d. Ищем курьера.", req.ID), nil)
		p.to(admins, fmt.Sprintf("Клиент согласовал стоимость по заявке #%d.", req.ID), nil)
		kb := Keyboard{}
		if req.DeliveryCost.IsPositive() && req.PaymentOrderID == "" {
			kb = append(kb, Row(Btn("💳 Оплатить доставку заранее", callback.KindPrepay, req, "")))
		}
		p.one(client, fmt.Sprintf("✅ Стоимость согласована. Ищем курьера, который заберёт устройство по заявке #%d.", req.ID), kb)

	case fsm.EventAdminCreateDelivery:
		if res.Task != nil {
			t := res.Task
			p.to(dir.Couriers(), fmt.Sprintf("🚚 Новая задача доставки #%d (заявка #%d)\nОткуда: %s\nКуда: %s",
				t.ID, req.ID, t.PickupAddress, t.DropoffAddress),
				Keyboard{Row(EventBtn("🙋 Взять задачу", fsm.EventCourierAcceptPickup, req))})
		}
		if res.Actor.Role == fsm.RoleAdmin {
			p.one(res.Actor.ID, fmt.Sprintf("Задача доставки по заявке #%d создана.", req.ID), nil)
		}

	case fsm.EventCourierAcceptPickup:
		name := userName(dir, courier)
		note := ""
		if res.Task != nil && res.Task.PickupNote != "" {
			note = "\nВремя: " + res.Task.PickupNote
		}
		if res.To == fsm.StatusCourierReturnEnRoute {
			p.one(client, fmt.Sprintf("🚚 Курьер %s забирает ваше устройство из сервисного центра и привезёт его вам.%s", name, note), nil)
			p.one(courier, fmt.Sprintf("Вы взяли задачу. Заберите устройство по заявке #%d в СЦ «%s» и доставьте клиенту: %s",
				req.ID, scName(dir, req.SCID()), req.Location.String()),
				Keyboard{Row(EventBtn("📦 Я у клиента", fsm.EventCourierDeliverToClient, req))})
			p.to(staff, fmt.Sprintf("Курьер %s заберёт устройство по заявке #%d.", name, req.ID), nil)
		} else {
			p.one(client, fmt.Sprintf("🚚 Курьер %s приедет за устройством по заявке #%d.%s", name, req.ID, note), nil)
			p.one(courier, fmt.Sprintf("Вы взяли задачу. Заберите устройство у клиента: %s\nПосле получения нажмите кнопку.", req.Location.String()),
				Keyboard{Row(EventBtn("📦 Забрал устройство", fsm.EventCourierConfirmHandoff, req))})
		}
		p.to(admins, fmt.Sprintf("Курьер %s взял заявку #%d.", name, req.ID), nil)

	case fsm.EventCourierConfirmHandoff:
		p.one(client, pickupConfirmText(req), pickupConfirmKeyboard(req))

	case fsm.EventClientConfirmReceipt:
		p.one(courier, fmt.Sprintf("✅ Клиент подтвердил передачу. Доставьте устройство в СЦ «%s». Код для передачи придёт отдельным сообщением.",
			scName(dir, req.SCID())), nil)
		p.to(staff, fmt.Sprintf("🚚 Курьер везёт устройство по заявке #%d. Когда курьер приедет, введите его код.", req.ID),
			Keyboard{Row(Btn("🔢 Ввести код", callback.KindCodePrompt, req, ""))})

	case fsm.EventClientDenyReceipt:
		if res.To == fsm.StatusNeedsAdminReview {
			p.to(admins, fmt.Sprintf("⚠️ Клиент не подтвердил передачу устройства по заявке #%d (отказов: %d).", req.ID, req.DenyCount),
				Keyboard{
					Row(Btn("📞 Связаться с клиентом", callback.KindContact, req, "")),
					Row(EventBtn("▶️ Продолжить", fsm.EventAdminResume, req), EventBtn("❌ Отклонить", fsm.EventAdminReject, req)),
				})
			p.one(client, "Мы передали вопрос администратору, он свяжется с вами. Если устройство действительно не передавалось, нажмите кнопку ниже.",
				Keyboard{Row(EventBtn("Устройство не передавалось", fsm.EventClientDenyReceipt, req))})
			p.one(courier, fmt.Sprintf("Клиент не подтвердил передачу по заявке #%d. Ожидайте решения администратора.", req.ID), nil)
		}

	case fsm.EventAdminResume:
		if res.To == fsm.StatusAwaitingFinalConfirm {
			p.one(client, finalConfirmText(req), finalConfirmKeyboard(req))
			p.one(courier, fmt.Sprintf("Администратор возобновил заявку #%d. Введите код клиента.", req.ID), courierCodeKeyboard(req))
		} else {
			p.one(client, pickupConfirmText(req), pickupConfirmKeyboard(req))
		}

	case fsm.EventCodeVerified:
		switch res.To {
		case fsm.StatusInSC:
			p.to(staff, fmt.Sprintf("📦 Устройство по заявке #%d получено. Примите его в ремонт или откажитесь.", req.ID),
				Keyboard{Row(EventBtn("🛠 Принять в ремонт", fsm.EventSCAcceptItem, req), EventBtn("↩️ Отказаться", fsm.EventSCRejectItem, req))})
			p.one(courier, fmt.Sprintf("✅ Передача в СЦ по заявке #%d подтверждена. Задача завершена.", req.ID), nil)
			p.one(client, fmt.Sprintf("📦 Устройство по заявке #%d доставлено в сервисный центр.", req.ID), nil)
		case fsm.StatusAwaitingFinalPayment:
			p.one(courier, fmt.Sprintf("✅ Код клиента подтверждён. Задача по заявке #%d завершена.", req.ID), nil)
			p.one(client, fmt.Sprintf("✅ Устройство передано. К оплате: %s. Ссылка на оплату придёт следующим сообщением.",
				pl.money(pricing.AmountDue(req.FinalPrice, req.DeliveryCost, req.DeliveryPaid))), nil)
		case fsm.StatusDelivered:
			p.one(courier, fmt.Sprintf("✅ Код клиента подтверждён. Задача по заявке #%d завершена.", req.ID), nil)
			p.one(client, fmt.Sprintf("🎉 Заявка #%d завершена. Спасибо, что выбрали нас!", req.ID), nil)
			p.to(staff, fmt.Sprintf("Заявка #%d завершена.", req.ID), nil)
			p.to(admins, fmt.Sprintf("Заявка #%d завершена.", req.ID), nil)
		}

	case fsm.EventSCAcceptItem:
		p.one(client, fmt.Sprintf("🛠 Сервисный центр начал ремонт по заявке #%d.", req.ID), nil)
		p.to(staff, fmt.Sprintf("Когда ремонт по заявке #%d будет готов, укажите итоговую стоимость.", req.ID),
			Keyboard{Row(Btn("💰 Указать итоговую стоимость", callback.KindFinalPricePrompt, req, ""))})

	case fsm.EventSCRejectItem:
		p.one(client, fmt.Sprintf("↩️ Сервисный центр вернёт устройство по заявке #%d без ремонта. Оплачивается только доставка.", req.ID), nil)
		p.to(admins, fmt.Sprintf("СЦ вернёт устройство по заявке #%d без ремонта.", req.ID), nil)

	case fsm.EventSCSetFinalPrice:
		total := pricing.AmountDue(req.FinalPrice, req.DeliveryCost, req.DeliveryPaid)
		p.one(client, fmt.Sprintf("🧾 Итоговая стоимость ремонта по заявке #%d: %s\nДоставка: %s\nК оплате при получении: %s\n\nСогласны?",
			req.ID, pl.money(req.FinalPrice), deliveryLine(pl, req), pl.money(total)),
			Keyboard{Row(EventBtn("✅ Согласен", fsm.EventClientApproveFinal, req), EventBtn("❌ Не согласен", fsm.EventClientRejectFinal, req))})
		p.to(staff, fmt.Sprintf("Итоговая стоимость по заявке #%d отправлена клиенту.", req.ID), nil)

	case fsm.EventClientRejectFinal:
		p.one(client, "💬 Открыт чат с сервисным центром по итоговой стоимости. Напишите ваше сообщение.", nil)
		p.to(staff, fmt.Sprintf("💬 Клиент не согласен с итоговой стоимостью по заявке #%d. Открыт чат с клиентом.", req.ID),
			Keyboard{Row(
				Btn("💰 Новая итоговая стоимость", callback.KindFinalPricePrompt, req, ""),
				EventBtn("↩️ Вернуть без ремонта", fsm.EventSCRejectItem, req),
			)})

	case fsm.EventClientApproveFinal:
		p.to(staff, fmt.Sprintf("✅ Клиент согласовал итоговую стоимость по заявке #%d. Курьер заберёт устройство.", req.ID), nil)
		p.to(admins, fmt.Sprintf("Клиент согласовал итоговую стоимость по заявке #%d.", req.ID), nil)

	case fsm.EventCourierDeliverToClient:
		p.one(courier, "Попросите у клиента код подтверждения и введите его.", courierCodeKeyboard(req))
		p.one(client, finalConfirmText(req), finalConfirmKeyboard(req))

	case fsm.EventPaymentFailed:
		kb := Keyboard{}
		if req.FinalPaymentURL != "" {
			kb = append(kb, Row(Button{Text: "💳 Оплатить", URL: req.FinalPaymentURL}))
		}
		kb = append(kb, Row(Btn("🔄 Проверить оплату", callback.KindPayCheck, req, "")))
		p.one(client, fmt.Sprintf("Оплата по заявке #%d пока не поступила.", req.ID), kb)

	case fsm.EventPaymentConfirmed:
		p.one(client, fmt.Sprintf("🎉 Оплата получена. Заявка #%d завершена, спасибо!", req.ID), nil)
		p.to(staff, fmt.Sprintf("Заявка #%d оплачена и завершена.", req.ID), nil)
		p.to(admins, fmt.Sprintf("💰 Заявка #%d оплачена и завершена.", req.ID), nil)
	}

	if res.To == fsm.StatusRejected && res.StatusChanged() {
		p.to(admins, fmt.Sprintf("❌ Заявка #%d отклонена (%s).", req.ID, rejectReason(res)), nil)
		p.one(client, fmt.Sprintf("❌ Заявка #%d отклонена. Если это ошибка, свяжитесь с нами.", req.ID), nil)
		p.to(staff, fmt.Sprintf("Заявка #%d отклонена.", req.ID), nil)
		p.one(courier, fmt.Sprintf("Заявка #%d отклонена, задача доставки отменена.", req.ID), nil)
	}
	return p.msgs
}

func rejectReason(res lifecycle.Result) string {
	if res.Event == fsm.EventClientDenyReceipt {
		return fmt.Sprintf("клиент %d раз не подтвердил передачу", res.Request.DenyCount)
	}
	return "решение администратора"
}

func deliveryLine(pl Planner, req store.Request) string {
	if req.DeliveryPaid {
		return pl.money(req.DeliveryCost) + " (оплачена)"
	}
	return pl.money(req.DeliveryCost)
}

func pickupConfirmText(req store.Request) string {
	return fmt.Sprintf("📦 Курьер отметил, что забрал устройство по заявке #%d. Подтвердите передачу.", req.ID)
}

func pickupConfirmKeyboard(req store.Request) Keyboard {
	return Keyboard{Row(
		EventBtn("✅ Да, передал", fsm.EventClientConfirmReceipt, req),
		EventBtn("❌ Нет, не передавал", fsm.EventClientDenyReceipt, req),
	)}
}

func finalConfirmText(req store.Request) string {
	return fmt.Sprintf("🚚 Курьер привёз устройство по заявке #%d. Назовите ему код подтверждения, который мы отправили.", req.ID)
}

func finalConfirmKeyboard(req store.Request) Keyboard {
	return Keyboard{Row(EventBtn("❌ Не получил устройство", fsm.EventClientDenyReceipt, req))}
}

func courierCodeKeyboard(req store.Request) Keyboard {
	return Keyboard{Row(
		Btn("🔢 Ввести код", callback.KindCodePrompt, req, ""),
		Btn("🔁 Код повторно", callback.KindCodeResend, req, ""),
	)}
}

// ManualDelivery asks admins to create a delivery task by hand.
func (pl Planner) ManualDelivery(req store.Request, typ store.DeliveryType, dir Directory) []Message {
	p := &plan{}
	leg := "в сервисный центр"
	if typ == store.DeliveryToClient {
		leg = "клиенту"
	}
	p.to(dir.Admins(), fmt.Sprintf("⚠️ Не удалось автоматически создать задачу доставки %s по заявке #%d. Создайте её вручную.", leg, req.ID),
		Keyboard{Row(EventBtn("🚚 Создать задачу", fsm.EventAdminCreateDelivery, req))})
	return p.msgs
}

// PaymentLink sends the final bill to the client.
func (pl Planner) PaymentLink(req store.Request) []Message {
	p := &plan{}
	total := pricing.AmountDue(req.FinalPrice, req.DeliveryCost, req.DeliveryPaid)
	p.one(req.UserID, fmt.Sprintf("💳 К оплате по заявке #%d: %s", req.ID, pl.money(total)), Keyboard{
		Row(Button{Text: "💳 Оплатить", URL: req.FinalPaymentURL}),
		Row(Btn("🔄 Проверить оплату", callback.KindPayCheck, req, "")),
	})
	return p.msgs
}

// PrepayLink sends the delivery prepayment link to the client.
func (pl Planner) PrepayLink(req store.Request) []Message {
	p := &plan{}
	p.one(req.UserID, fmt.Sprintf("💳 Оплата доставки по заявке #%d: %s", req.ID, pl.money(req.DeliveryCost)), Keyboard{
		Row(Button{Text: "💳 Оплатить доставку", URL: req.PaymentURL}),
		Row(Btn("🔄 Проверить оплату доставки", callback.KindPrepayCheck, req, "")),
	})
	return p.msgs
}

// PaymentPending tells the client the payment has not arrived yet.
func (pl Planner) PaymentPending(req store.Request) []Message {
	p := &plan{}
	kb := Keyboard{}
	if req.FinalPaymentURL != "" {
		kb = append(kb, Row(Button{Text: "💳 Оплатить", URL: req.FinalPaymentURL}))
	}
	kb = append(kb, Row(Btn("🔄 Проверить оплату", callback.KindPayCheck, req, "")))
	p.one(req.UserID, fmt.Sprintf("⏳ Оплата по заявке #%d ещё не поступила.", req.ID), kb)
	return p.msgs
}

// DeliveryPaid confirms the delivery prepayment to the client.
func (pl Planner) DeliveryPaid(req store.Request) []Message {
	p := &plan{}
	p.one(req.UserID, fmt.Sprintf("✅ Доставка по заявке #%d оплачена (%s).", req.ID, pl.money(req.DeliveryCost)), nil)
	return p.msgs
}

// PaymentUnavailable tells the client and admins that the gateway failed.
func (pl Planner) PaymentUnavailable(req store.Request, dir Directory) []Message {
	p := &plan{}
	p.one(req.UserID, "Платёжный сервис временно недоступен. Попробуйте проверить оплату позже.",
		Keyboard{Row(Btn("🔄 Повторить", callback.KindPayCheck, req, ""))})
	p.to(dir.Admins(), fmt.Sprintf("⚠️ Не удалось создать платёж по заявке #%d.", req.ID), nil)
	return p.msgs
}

// CodeUndeliverable alerts admins that a confirmation code could not be sent.
func (pl Planner) CodeUndeliverable(req store.Request, recipient int64, dir Directory) []Message {
	p := &plan{}
	p.to(dir.Admins(), fmt.Sprintf("⚠️ Не удалось отправить код подтверждения по заявке #%d получателю %d.", req.ID, recipient),
		Keyboard{Row(Btn("🔁 Выдать новый код", callback.KindCodeResend, req, ""))})
	return p.msgs
}
