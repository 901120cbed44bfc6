package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gifty-bot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrMessageGone indicates the target message no longer exists or cannot be
// edited; callers should fall back to sending a new message.
var ErrMessageGone = errors.New("telegram message gone")

// Button is a single inline keyboard button. URL buttons carry URL, everything
// else carries callback Data.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Keyboard is an inline keyboard layout, one slice per row.
type Keyboard [][]Button

// Event is a normalized inbound Telegram update.
type Event struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Text      string
	Callback  string
}

// UpdateProcessor handles inbound Telegram events.
type UpdateProcessor interface {
	ProcessEvent(ctx context.Context, evt Event)
}

// Config holds configuration to initialise the Telegram client.
type Config struct {
	Token       string
	PollTimeout int
	Metrics     *metrics.Metrics
}

// Client wraps the Telegram Bot API client and associated dependencies.
type Client struct {
	bot         *tgbotapi.BotAPI
	logger      *slog.Logger
	metrics     *metrics.Metrics
	pollTimeout int
	processor   UpdateProcessor
}

// New creates a new Telegram client instance.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	c := &Client{
		bot:         bot,
		logger:      logger.With("component", "tg"),
		metrics:     cfg.Metrics,
		pollTimeout: pollTimeout,
	}
	c.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return c, nil
}

// SetUpdateProcessor registers the inbound event processor.
func (c *Client) SetUpdateProcessor(processor UpdateProcessor) {
	c.processor = processor
}

// Start consumes updates via long polling until the context is cancelled.
func (c *Client) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout

	updates := c.bot.GetUpdatesChan(u)
	c.logger.Info("telegram client polling for updates")

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleUpdate(update)
		}
	}
}

// Close stops the update stream.
func (c *Client) Close() {
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
}

func (c *Client) handleUpdate(update tgbotapi.Update) {
	var evt Event
	var kind string

	switch {
	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		// Acknowledge immediately so the client stops its spinner.
		if _, err := c.bot.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			c.logger.Warn("failed answering callback query", "error", err)
		}
		evt = Event{
			UserID:   query.From.ID,
			Callback: query.Data,
		}
		if query.Message != nil {
			evt.ChatID = query.Message.Chat.ID
			evt.MessageID = query.Message.MessageID
		} else {
			evt.ChatID = query.From.ID
		}
		kind = "callback"
	case update.Message != nil && update.Message.From != nil:
		msg := update.Message
		evt = Event{
			UserID:    msg.From.ID,
			ChatID:    msg.Chat.ID,
			MessageID: msg.MessageID,
			Text:      msg.Text,
		}
		kind = "text"
	default:
		return
	}

	if c.metrics != nil {
		c.metrics.TGIncomingUpdates.WithLabelValues(kind).Inc()
	}
	if c.processor != nil {
		go c.processor.ProcessEvent(context.Background(), evt)
	}
}

// SendText sends a plain text message and returns the sent message id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("text").Inc()
	}
	return sent.MessageID, nil
}

// SendKeyboard sends a text message with an inline keyboard and returns the
// sent message id.
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kb) > 0 {
		msg.ReplyMarkup = markupFor(kb)
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send keyboard: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("keyboard").Inc()
	}
	return sent.MessageID, nil
}

// EditMessage replaces the text and keyboard of an existing message.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var edit tgbotapi.Chattable
	if len(kb) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markupFor(kb))
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}

	if _, err := c.bot.Send(edit); err != nil {
		if isMessageGone(err) {
			return fmt.Errorf("edit message: %w: %v", ErrMessageGone, err)
		}
		return fmt.Errorf("edit message: %w", err)
	}
	if c.metrics != nil {
		c.metrics.TGOutgoingMessages.WithLabelValues("edit").Inc()
	}
	return nil
}

// isMessageGone classifies Bot API errors meaning the edit target is not editable.
func isMessageGone(err error) bool {
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "message to edit not found") ||
		strings.Contains(text, "message can't be edited") ||
		strings.Contains(text, "message_id_invalid")
}

func markupFor(kb Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
			}
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
