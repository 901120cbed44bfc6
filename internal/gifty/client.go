package gifty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gifty-bot/internal/cache"
	"gifty-bot/internal/metrics"

	"github.com/go-resty/resty/v2"
)

const defaultShopCacheTTL = 5 * time.Minute

var (
	// ErrTransport indicates the backend could not be reached in time.
	ErrTransport = errors.New("gifty backend unreachable")
	// ErrShopNotFound indicates no shop is registered for the given identity.
	ErrShopNotFound = errors.New("shop not found")
)

// BackendError carries the error text the backend returned with a non-2xx status.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gifty backend error: status=%d", e.Status)
	}
	return fmt.Sprintf("gifty backend error: status=%d message=%s", e.Status, e.Message)
}

// Redeem transaction statuses as reported by the backend.
const (
	RedeemStatusCreated   = "CREATED"
	RedeemStatusConfirmed = "CONFIRMED"
	RedeemStatusRejected  = "REJECTED"
	RedeemStatusError     = "ERROR"
)

// Redeem resolution actions.
const (
	RedeemActionConfirm = "confirm"
	RedeemActionReject  = "reject"
)

// Client provides typed access to the gifty commerce backend.
type Client struct {
	logger  *slog.Logger
	http    *resty.Client
	metrics *metrics.Metrics
	cache   *cache.Redis
	shopTTL time.Duration
}

// Config holds backend client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a new backend client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics, redis *cache.Redis) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:8000"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "gifty-bot/backend-client")

	return &Client{
		logger:  logger.With("component", "gifty"),
		http:    httpClient,
		metrics: metrics,
		cache:   redis,
		shopTTL: defaultShopCacheTTL,
	}
}

// PurchaseRequest holds parameters to create a gift-card purchase.
type PurchaseRequest struct {
	Amount        int64  `json:"amount"`
	Channel       string `json:"channel"`
	UserChannelID string `json:"user_channel_id"`
	UserMessageID string `json:"user_message_id,omitempty"`
}

// PurchaseOrder captures the backend purchase response.
type PurchaseOrder struct {
	PaymentLinkURL string `json:"payment_link_url"`
}

// GiftCard represents a gift card owned by a customer.
type GiftCard struct {
	Code      string  `json:"code"`
	Status    string  `json:"status"`
	Balance   float64 `json:"balance"`
	ExpiresAt string  `json:"expires_at"`
}

// RedeemTransaction is a backend-tracked redemption awaiting or past customer confirmation.
type RedeemTransaction struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Message            string `json:"message"`
	CustomerTelegramID string `json:"customer_telegram_id"`
	ShopTelegramID     string `json:"shop_telegram_id,omitempty"`
}

// Shop represents a registered shop.
type Shop struct {
	ID         string `json:"id"`
	NIT        string `json:"nit"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	TelegramID string `json:"telegram_id"`
}

// ShopDraft holds the fields collected during shop onboarding.
type ShopDraft struct {
	NIT        string `json:"nit"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	TelegramID string `json:"telegram_id"`
}

// CreatePurchase asks the backend to create a purchase and payment link.
func (c *Client) CreatePurchase(ctx context.Context, req PurchaseRequest) (*PurchaseOrder, error) {
	const endpoint = "/giftcards/buy/"

	var order PurchaseOrder
	resp, err := c.observe(endpoint, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&order).
			Post(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("create purchase: %w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, backendErrorFrom(resp)
	}
	return &order, nil
}

// ListGiftCards retrieves the customer's gift cards.
func (c *Client) ListGiftCards(ctx context.Context, telegramID string) ([]GiftCard, error) {
	const endpoint = "/giftcards/"

	var cards []GiftCard
	resp, err := c.observe(endpoint, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("customer_telegram_id", telegramID).
			SetResult(&cards).
			Get(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("list gift cards: %w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, backendErrorFrom(resp)
	}
	return cards, nil
}

// InitiateRedeem starts a redemption of the given code on behalf of a shop.
func (c *Client) InitiateRedeem(ctx context.Context, shopTelegramID, code string) (*RedeemTransaction, error) {
	const endpoint = "/giftcards/redeem/"

	var txn RedeemTransaction
	resp, err := c.observe(endpoint, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(map[string]string{
				"shop_telegram_id": shopTelegramID,
				"code":             code,
			}).
			SetResult(&txn).
			Post(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("initiate redeem: %w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, backendErrorFrom(resp)
	}
	return &txn, nil
}

// ResolveRedeem confirms or rejects a pending redeem transaction.
func (c *Client) ResolveRedeem(ctx context.Context, transactionID, action string) (*RedeemTransaction, error) {
	if action != RedeemActionConfirm && action != RedeemActionReject {
		return nil, fmt.Errorf("resolve redeem: invalid action %q", action)
	}
	endpoint := fmt.Sprintf("/giftcards/redeem/%s/%s", transactionID, action)

	var txn RedeemTransaction
	resp, err := c.observe("/giftcards/redeem/{id}/{action}", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&txn).
			Post(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve redeem: %w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, backendErrorFrom(resp)
	}
	return &txn, nil
}

// LookupShop finds the shop registered for the given Telegram identity.
// Successful lookups are cached briefly so repeated menu visits stay cheap.
func (c *Client) LookupShop(ctx context.Context, telegramID string) (*Shop, error) {
	cacheKey := "gifty:shop:" + telegramID
	if c.cache != nil {
		var cached Shop
		ok, err := c.cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.logger.Warn("read shop cache failed", "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	endpoint := "/shops/by-telegram/" + telegramID

	var shop Shop
	resp, err := c.observe("/shops/by-telegram/{id}", func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&shop).
			Get(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("lookup shop: %w: %v", ErrTransport, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrShopNotFound
	}
	if resp.IsError() {
		return nil, backendErrorFrom(resp)
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cacheKey, shop, c.shopTTL); err != nil {
			c.logger.Warn("set shop cache failed", "error", err)
		}
	}
	return &shop, nil
}

// CreateShop registers a new shop from the onboarding draft.
func (c *Client) CreateShop(ctx context.Context, draft ShopDraft) (*Shop, error) {
	const endpoint = "/shops/"

	var shop Shop
	resp, err := c.observe(endpoint, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(draft).
			SetResult(&shop).
			Post(endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("create shop: %w: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return nil, backendErrorFrom(resp)
	}

	if c.cache != nil {
		// Drop any cached not-found so the fresh shop is visible immediately.
		if err := c.cache.Delete(ctx, "gifty:shop:"+draft.TelegramID); err != nil {
			c.logger.Warn("invalidate shop cache failed", "error", err)
		}
	}
	return &shop, nil
}

// observe runs a request and records per-endpoint metrics.
func (c *Client) observe(endpoint string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	start := time.Now()
	resp, err := fn()
	duration := time.Since(start).Seconds()

	statusLabel := "error"
	if err == nil && resp != nil {
		statusLabel = fmt.Sprintf("%d", resp.StatusCode())
	}
	if c.metrics != nil {
		c.metrics.BackendRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.BackendLatency.WithLabelValues(endpoint, statusLabel).Observe(duration)
	}
	return resp, err
}

// backendErrorFrom extracts the backend-supplied error text from a non-2xx response.
func backendErrorFrom(resp *resty.Response) *BackendError {
	body := resp.Body()

	var payload struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	message := ""
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			message = payload.Error
		case payload.Detail != "":
			message = payload.Detail
		case payload.Message != "":
			message = payload.Message
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	return &BackendError{Status: resp.StatusCode(), Message: message}
}
