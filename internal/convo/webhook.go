package convo

import (
	"context"
	"fmt"
	"strconv"

	"gifty-bot/internal/gifty"
	"gifty-bot/internal/tg"
)

// HandlePaymentStatus completes a purchase conversation from a backend
// payment notification. The original payment-link message is edited in
// place; if it is gone a fresh message is sent instead. Delivery problems
// are logged, never returned, so the backend gets its ack either way.
func (e *Engine) HandlePaymentStatus(ctx context.Context, event gifty.PaymentStatusEvent) error {
	userID, err := strconv.ParseInt(event.TelegramID, 10, 64)
	if err != nil {
		return fmt.Errorf("payment status: invalid telegram_id %q: %w", event.TelegramID, err)
	}

	var text string
	if event.Status == "success" {
		text = msgPaymentSuccess
		if event.GiftCard != nil {
			text += "\n\n" + giftCardDetail(*event.GiftCard)
		}
	} else {
		text = msgPaymentFailed
	}

	messageID, _ := strconv.Atoi(event.MessageID)

	var chatID int64
	e.sessions.With(userID, func(sess *Session) {
		if messageID == 0 {
			messageID = sess.PaymentMessageID
		}
		sess.Flow = FlowIdle
		sess.PaymentMessageID = 0
		chatID = sess.ChatID
	})

	e.editOrSend(ctx, userID, chatID, messageID, text, mainMenu())
	return nil
}

// HandleRedeemStatus reacts to a redeem transaction state change. A CREATED
// transaction asks the consumer to confirm; any other state is final and is
// relayed to both parties independently.
func (e *Engine) HandleRedeemStatus(ctx context.Context, event gifty.RedeemStatusEvent) error {
	customerID, err := strconv.ParseInt(event.CustomerTelegramID, 10, 64)
	if err != nil {
		return fmt.Errorf("redeem status: invalid customer_telegram_id %q: %w", event.CustomerTelegramID, err)
	}

	if event.Status == gifty.RedeemStatusCreated {
		var chatID int64
		e.sessions.With(customerID, func(sess *Session) {
			sess.Flow = FlowAwaitingRedeemDecision
			chatID = sess.ChatID
		})
		e.send(ctx, customerID, chatID, event.Message, confirmKeyboard(event.ID))
		return nil
	}

	var chatID int64
	e.sessions.With(customerID, func(sess *Session) {
		sess.Flow = FlowIdle
		chatID = sess.ChatID
	})
	e.send(ctx, customerID, chatID, event.Message, mainMenu())

	if shopID, perr := strconv.ParseInt(event.ShopTelegramID, 10, 64); perr == nil {
		e.send(ctx, shopID, shopID, event.Message, shopMenu())
	}
	return nil
}

// compile-time check that the engine satisfies the webhook processor and
// chat update interfaces.
var (
	_ gifty.NotificationProcessor = (*Engine)(nil)
	_ tg.UpdateProcessor          = (*Engine)(nil)
)
