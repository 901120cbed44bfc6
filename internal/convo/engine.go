package convo

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"gifty-bot/internal/gifty"
	"gifty-bot/internal/metrics"
	"gifty-bot/internal/repo"
	"gifty-bot/internal/tg"
)

// Gateway is the backend commerce API consumed by the engine.
type Gateway interface {
	CreatePurchase(ctx context.Context, req gifty.PurchaseRequest) (*gifty.PurchaseOrder, error)
	ListGiftCards(ctx context.Context, telegramID string) ([]gifty.GiftCard, error)
	InitiateRedeem(ctx context.Context, shopTelegramID, code string) (*gifty.RedeemTransaction, error)
	ResolveRedeem(ctx context.Context, transactionID, action string) (*gifty.RedeemTransaction, error)
	LookupShop(ctx context.Context, telegramID string) (*gifty.Shop, error)
	CreateShop(ctx context.Context, draft gifty.ShopDraft) (*gifty.Shop, error)
}

// Messenger is the outbound chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendKeyboard(ctx context.Context, chatID int64, text string, kb tg.Keyboard) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, kb tg.Keyboard) error
}

// followUp is work a handler defers until the acting user's session lock has
// been released, such as touching another user's session.
type followUp func(ctx context.Context)

// EngineConfig holds engine tunables.
type EngineConfig struct {
	Channel string
}

// Engine coordinates the purchase, redeem and shop onboarding flows. It is
// constructed once at process start and shared by the chat and webhook
// ingress paths; the session store serializes work per user.
type Engine struct {
	repository repo.Repository
	gateway    Gateway
	messenger  Messenger
	sessions   *SessionStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
	channel    string
}

// New creates the conversation engine.
func New(repository repo.Repository, gateway Gateway, messenger Messenger, sessions *SessionStore, m *metrics.Metrics, logger *slog.Logger, cfg EngineConfig) *Engine {
	channel := cfg.Channel
	if channel == "" {
		channel = "telegram"
	}
	return &Engine{
		repository: repository,
		gateway:    gateway,
		messenger:  messenger,
		sessions:   sessions,
		metrics:    m,
		logger:     logger.With("component", "convo"),
		channel:    channel,
	}
}

// ProcessEvent dispatches one inbound chat event. Nothing escapes this
// boundary: panics are logged and turned into a generic user-visible error.
func (e *Engine) ProcessEvent(ctx context.Context, evt tg.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in event handler", "panic", r, "user_id", evt.UserID)
			if e.metrics != nil {
				e.metrics.Errors.WithLabelValues("convo_dispatch").Inc()
			}
			chatID := evt.ChatID
			if chatID == 0 {
				chatID = evt.UserID
			}
			e.send(ctx, evt.UserID, chatID, msgGenericError, nil)
		}
	}()

	if evt.Callback != "" {
		e.recordMessage(ctx, evt.UserID, "in", "callback", evt.Callback)
	} else {
		e.recordMessage(ctx, evt.UserID, "in", "text", evt.Text)
	}

	var after followUp
	e.sessions.With(evt.UserID, func(sess *Session) {
		if evt.ChatID != 0 {
			sess.ChatID = evt.ChatID
		}
		if evt.Callback != "" {
			e.handleCallback(ctx, sess, evt)
		} else {
			after = e.handleText(ctx, sess, evt)
		}
	})
	if after != nil {
		after(ctx)
	}
}

func (e *Engine) handleCallback(ctx context.Context, sess *Session, evt tg.Event) {
	cmd := ParseCallback(evt.Callback)

	switch cmd.Kind {
	case CmdBuy:
		e.startPurchase(ctx, sess, evt)
	case CmdSelectAmount:
		if sess.Flow != FlowAwaitingAmount {
			e.fallback(ctx, sess)
			return
		}
		e.selectAmount(ctx, sess, evt, cmd.Amount)
	case CmdRedeem:
		e.startRedeem(ctx, sess, evt)
	case CmdSelectCard:
		if sess.Flow != FlowListingGiftCards {
			e.fallback(ctx, sess)
			return
		}
		e.selectCard(ctx, sess, evt, cmd.Code)
	case CmdShopStart:
		e.shopEntry(ctx, sess)
	case CmdShopRedeemStart:
		sess.Flow = FlowAwaitingRedeemCode
		e.send(ctx, sess.UserID, sess.ChatID, msgEnterRedeemCode, nil)
	case CmdRedeemConfirm:
		// Confirm/Reject buttons are delivered asynchronously, so they are a
		// valid transition from any flow; the backend is authoritative.
		e.resolveRedeem(ctx, sess, evt, cmd.TransactionID, gifty.RedeemActionConfirm)
	case CmdRedeemReject:
		e.resolveRedeem(ctx, sess, evt, cmd.TransactionID, gifty.RedeemActionReject)
	default:
		e.fallback(ctx, sess)
	}
}

func (e *Engine) handleText(ctx context.Context, sess *Session, evt tg.Event) followUp {
	text := strings.TrimSpace(evt.Text)

	switch sess.Flow {
	case FlowShopOnboarding:
		e.onboardingInput(ctx, sess, text)
	case FlowAwaitingRedeemCode:
		return e.submitRedeemCode(ctx, sess, text)
	default:
		if isShopCommand(text) {
			e.shopEntry(ctx, sess)
			return nil
		}
		e.send(ctx, sess.UserID, sess.ChatID, msgWelcome, mainMenu())
	}
	return nil
}

// Purchase flow.

func (e *Engine) startPurchase(ctx context.Context, sess *Session, evt tg.Event) {
	sess.Flow = FlowAwaitingAmount
	e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgSelectAmount, amountKeyboard())
}

func (e *Engine) selectAmount(ctx context.Context, sess *Session, evt tg.Event, amount int64) {
	req := gifty.PurchaseRequest{
		Amount:        amount,
		Channel:       e.channel,
		UserChannelID: strconv.FormatInt(sess.UserID, 10),
	}
	if evt.MessageID != 0 {
		req.UserMessageID = strconv.Itoa(evt.MessageID)
	}

	order, err := e.gateway.CreatePurchase(ctx, req)
	switch {
	case err == nil && order.PaymentLinkURL != "":
		sess.Flow = FlowAwaitingPayment
		sess.PaymentMessageID = evt.MessageID
		e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgPaymentLink, payKeyboard(order.PaymentLinkURL))
	case err == nil:
		sess.Flow = FlowIdle
		e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgNoPaymentLink, mainMenu())
	case isBackendError(err):
		sess.Flow = FlowIdle
		e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgPurchaseError, mainMenu())
	default:
		e.logger.Warn("create purchase failed", "error", err, "user_id", sess.UserID)
		sess.Flow = FlowIdle
		e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgGenericError, mainMenu())
	}
}

// Consumer redeem flow.

func (e *Engine) startRedeem(ctx context.Context, sess *Session, evt tg.Event) {
	cards, err := e.gateway.ListGiftCards(ctx, strconv.FormatInt(sess.UserID, 10))
	if err != nil {
		// Transport failures are treated as an empty list.
		e.logger.Warn("list gift cards failed", "error", err, "user_id", sess.UserID)
		cards = nil
	}

	if len(cards) == 0 {
		sess.Flow = FlowIdle
		e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgNoGiftCards, mainMenu())
		return
	}

	sess.CachedGiftCards = cards
	sess.Flow = FlowListingGiftCards
	e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, msgChooseCard, cardsKeyboard(cards))
}

func (e *Engine) selectCard(ctx context.Context, sess *Session, evt tg.Event, code string) {
	for _, card := range sess.CachedGiftCards {
		if card.Code == code {
			sess.Flow = FlowIdle
			e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, giftCardDetail(card), mainMenu())
			return
		}
	}
	// The list may be stale relative to the backend; the card could have
	// been redeemed since it was fetched.
	e.send(ctx, sess.UserID, sess.ChatID, msgCardNotFound, nil)
}

// Shop-side redeem flow.

// submitRedeemCode reads the shop's state and returns the backend call as a
// follow-up. The gateway round trip and the customer notification run after
// the shop's session lock is released, so a redeem that targets a card owned
// by the shop's own account cannot deadlock on its session.
func (e *Engine) submitRedeemCode(ctx context.Context, sess *Session, code string) followUp {
	if code == "" {
		e.send(ctx, sess.UserID, sess.ChatID, msgEnterRedeemCode, nil)
		return nil
	}

	// Reset-on-error: the shop re-enters code mode from the menu to retry.
	sess.Flow = FlowIdle
	shopID, shopChat := sess.UserID, sess.ChatID

	return func(ctx context.Context) {
		txn, err := e.gateway.InitiateRedeem(ctx, strconv.FormatInt(shopID, 10), code)
		switch {
		case err == nil && txn.Status == gifty.RedeemStatusCreated:
			customerID, perr := strconv.ParseInt(txn.CustomerTelegramID, 10, 64)
			if perr != nil {
				e.logger.Error("invalid customer id in redeem transaction", "error", perr, "transaction_id", txn.ID)
				e.send(ctx, shopID, shopChat, msgGenericError, shopMenu())
				return
			}
			var customerChat int64
			e.sessions.With(customerID, func(cs *Session) {
				cs.Flow = FlowAwaitingRedeemDecision
				customerChat = cs.ChatID
			})
			e.send(ctx, customerID, customerChat, txn.Message, confirmKeyboard(txn.ID))
			e.send(ctx, shopID, shopChat, msgAwaitingCustomer, nil)
		case err == nil:
			e.send(ctx, shopID, shopChat, txn.Message, shopMenu())
		case isBackendError(err):
			e.send(ctx, shopID, shopChat, backendMessage(err), shopMenu())
		default:
			e.logger.Warn("initiate redeem failed", "error", err, "user_id", shopID)
			e.send(ctx, shopID, shopChat, msgGenericError, shopMenu())
		}
	}
}

func (e *Engine) resolveRedeem(ctx context.Context, sess *Session, evt tg.Event, transactionID, action string) {
	txn, err := e.gateway.ResolveRedeem(ctx, transactionID, action)
	switch {
	case err == nil:
		sess.Flow = FlowIdle
		e.editOrSend(ctx, sess.UserID, sess.ChatID, evt.MessageID, txn.Message, mainMenu())
		// The shop notification is independent; its failure never rolls
		// back the consumer-facing edit. Shops chat privately, so the chat
		// id is their user id.
		if shopID, perr := strconv.ParseInt(txn.ShopTelegramID, 10, 64); perr == nil {
			e.send(ctx, shopID, shopID, txn.Message, shopMenu())
		}
	case isBackendError(err):
		e.send(ctx, sess.UserID, sess.ChatID, backendMessage(err), nil)
	default:
		e.logger.Warn("resolve redeem failed", "error", err, "transaction_id", transactionID)
		e.send(ctx, sess.UserID, sess.ChatID, msgGenericError, nil)
	}
}

// Shop onboarding flow.

func (e *Engine) shopEntry(ctx context.Context, sess *Session) {
	shop, err := e.gateway.LookupShop(ctx, strconv.FormatInt(sess.UserID, 10))
	switch {
	case err == nil:
		sess.Flow = FlowIdle
		e.send(ctx, sess.UserID, sess.ChatID, shopGreeting(shop), shopMenu())
	case errors.Is(err, gifty.ErrShopNotFound):
		sess.Flow = FlowShopOnboarding
		sess.Step = StepNIT
		sess.ShopDraft = ShopDraft{}
		e.send(ctx, sess.UserID, sess.ChatID, msgAskNIT, nil)
	default:
		e.logger.Warn("lookup shop failed", "error", err, "user_id", sess.UserID)
		sess.Flow = FlowIdle
		e.send(ctx, sess.UserID, sess.ChatID, msgGenericError, nil)
	}
}

func (e *Engine) onboardingInput(ctx context.Context, sess *Session, text string) {
	if isCancelCommand(text) {
		sess.ShopDraft = ShopDraft{}
		sess.Flow = FlowIdle
		e.send(ctx, sess.UserID, sess.ChatID, msgOnboardCancelled, mainMenu())
		return
	}
	if text == "" {
		e.send(ctx, sess.UserID, sess.ChatID, onboardingPrompt(sess.Step), nil)
		return
	}

	switch sess.Step {
	case StepNIT:
		sess.ShopDraft.NIT = text
		sess.Step = StepName
		e.send(ctx, sess.UserID, sess.ChatID, msgAskName, nil)
	case StepName:
		sess.ShopDraft.Name = text
		sess.Step = StepEmail
		e.send(ctx, sess.UserID, sess.ChatID, msgAskEmail, nil)
	case StepEmail:
		sess.ShopDraft.Email = text
		sess.Step = StepPhone
		e.send(ctx, sess.UserID, sess.ChatID, msgAskPhone, nil)
	case StepPhone:
		sess.ShopDraft.Phone = text
		e.submitShopDraft(ctx, sess)
	}
}

func (e *Engine) submitShopDraft(ctx context.Context, sess *Session) {
	draft := gifty.ShopDraft{
		NIT:        sess.ShopDraft.NIT,
		Name:       sess.ShopDraft.Name,
		Email:      sess.ShopDraft.Email,
		Phone:      sess.ShopDraft.Phone,
		TelegramID: strconv.FormatInt(sess.UserID, 10),
	}

	// The flow does not resume after submission, whatever the outcome.
	sess.ShopDraft = ShopDraft{}
	sess.Flow = FlowIdle

	shop, err := e.gateway.CreateShop(ctx, draft)
	switch {
	case err == nil:
		e.send(ctx, sess.UserID, sess.ChatID, shopCreatedMessage(shop), shopMenu())
		e.markUserAsShop(ctx, sess.UserID)
	case isBackendError(err):
		e.send(ctx, sess.UserID, sess.ChatID, backendMessage(err), mainMenu())
	default:
		e.logger.Warn("create shop failed", "error", err, "user_id", sess.UserID)
		e.send(ctx, sess.UserID, sess.ChatID, msgGenericError, mainMenu())
	}
}

// Outbound helpers.

func (e *Engine) fallback(ctx context.Context, sess *Session) {
	e.send(ctx, sess.UserID, sess.ChatID, msgUnknownAction, mainMenu())
}

// send delivers to chatID and audits against userID, the recipient's
// identity, which can differ from the chat in group conversations.
func (e *Engine) send(ctx context.Context, userID, chatID int64, text string, kb tg.Keyboard) {
	if chatID == 0 {
		return
	}
	var err error
	if len(kb) > 0 {
		_, err = e.messenger.SendKeyboard(ctx, chatID, text, kb)
	} else {
		_, err = e.messenger.SendText(ctx, chatID, text)
	}
	if err != nil {
		e.logger.Warn("failed sending message", "error", err, "chat_id", chatID)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo_send").Inc()
		}
		return
	}
	e.recordMessage(ctx, userID, "out", "text", text)
}

// editOrSend edits the target message in place and falls back to sending a
// new message with identical content when the target is gone. Exactly one of
// the two becomes the final user-visible state.
func (e *Engine) editOrSend(ctx context.Context, userID, chatID int64, messageID int, text string, kb tg.Keyboard) {
	if messageID != 0 {
		err := e.messenger.EditMessage(ctx, chatID, messageID, text, kb)
		if err == nil {
			e.recordMessage(ctx, userID, "out", "edit", text)
			return
		}
		if !errors.Is(err, tg.ErrMessageGone) {
			e.logger.Warn("failed editing message", "error", err, "chat_id", chatID, "message_id", messageID)
			if e.metrics != nil {
				e.metrics.Errors.WithLabelValues("convo_edit").Inc()
			}
			return
		}
	}
	e.send(ctx, userID, chatID, text, kb)
}

// recordMessage persists an audit record, best effort.
func (e *Engine) recordMessage(ctx context.Context, telegramID int64, direction, kind, content string) {
	if e.repository == nil {
		return
	}
	err := e.repository.InsertMessage(ctx, repo.MessageRecord{
		TelegramID: strconv.FormatInt(telegramID, 10),
		Direction:  direction,
		Kind:       kind,
		Content:    &content,
	})
	if err != nil {
		e.logger.Debug("failed recording message", "error", err)
	}
}

func (e *Engine) markUserAsShop(ctx context.Context, userID int64) {
	if e.repository == nil {
		return
	}
	isShop := true
	_, err := e.repository.UpsertUserByTelegram(ctx, repo.UserProfile{
		TelegramID: strconv.FormatInt(userID, 10),
		IsShop:     &isShop,
	})
	if err != nil {
		e.logger.Debug("failed marking user as shop", "error", err)
	}
}

func isShopCommand(text string) bool {
	switch strings.ToLower(text) {
	case "shop", "/shop":
		return true
	}
	return false
}

func isCancelCommand(text string) bool {
	switch strings.ToLower(text) {
	case "cancel", "/cancel":
		return true
	}
	return false
}

func onboardingPrompt(step OnboardingStep) string {
	switch step {
	case StepName:
		return msgAskName
	case StepEmail:
		return msgAskEmail
	case StepPhone:
		return msgAskPhone
	default:
		return msgAskNIT
	}
}

func isBackendError(err error) bool {
	var be *gifty.BackendError
	return errors.As(err, &be)
}

// backendMessage relays the backend-supplied error text, if any.
func backendMessage(err error) string {
	var be *gifty.BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return msgGenericError
}
