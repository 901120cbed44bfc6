package convo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gifty-bot/internal/gifty"
)

// Flow enumerates the conversational states a session can be in.
type Flow int

const (
	FlowIdle Flow = iota
	FlowAwaitingAmount
	FlowAwaitingPayment
	FlowListingGiftCards
	FlowAwaitingRedeemCode
	FlowAwaitingRedeemDecision
	FlowShopOnboarding
)

func (f Flow) String() string {
	switch f {
	case FlowIdle:
		return "idle"
	case FlowAwaitingAmount:
		return "awaiting_amount"
	case FlowAwaitingPayment:
		return "awaiting_payment"
	case FlowListingGiftCards:
		return "listing_gift_cards"
	case FlowAwaitingRedeemCode:
		return "awaiting_redeem_code"
	case FlowAwaitingRedeemDecision:
		return "awaiting_redeem_decision"
	case FlowShopOnboarding:
		return "shop_onboarding"
	default:
		return "unknown"
	}
}

// OnboardingStep enumerates the ordered shop onboarding form fields.
type OnboardingStep int

const (
	StepNIT OnboardingStep = iota
	StepName
	StepEmail
	StepPhone
)

// ShopDraft accumulates onboarding answers until submission.
type ShopDraft struct {
	NIT   string
	Name  string
	Email string
	Phone string
}

// Session is the per-user ephemeral conversation state.
type Session struct {
	UserID int64
	ChatID int64

	Flow Flow
	Step OnboardingStep

	CachedGiftCards  []gifty.GiftCard
	ShopDraft        ShopDraft
	PaymentMessageID int

	LastEventAt time.Time

	mu sync.Mutex
}

// SessionStore keeps sessions keyed by Telegram user id. Each entry is
// guarded by its own lock so the chat ingress and webhook ingress can touch
// different users concurrently while a single user's events serialize.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*Session)}
}

// With runs fn with the user's session locked, creating the session lazily.
// The last-event timestamp is refreshed on every call. The session lock is
// not reentrant: fn must not call back into the store, so work touching
// another user's session runs after With returns.
func (s *SessionStore) With(userID int64, fn func(sess *Session)) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &Session{
			UserID: userID,
			// Private chats share the user id as chat id; overwritten
			// as soon as a real chat event arrives.
			ChatID: userID,
			Flow:   FlowIdle,
		}
		s.sessions[userID] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.LastEventAt = time.Now()
	fn(sess)
}

// Len reports the number of tracked sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than maxIdle and returns the count.
// An evicted session is simply rebuilt lazily on the user's next event.
// A session whose lock is held is in the middle of an event, so it cannot be
// idle; TryLock keeps the sweep from ever blocking on a busy session while
// holding the store lock.
func (s *SessionStore) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.LastEventAt.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// StartJanitor sweeps the store periodically until the context is cancelled.
func (s *SessionStore) StartJanitor(ctx context.Context, maxIdle, interval time.Duration, logger *slog.Logger) {
	if maxIdle <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(maxIdle); n > 0 && logger != nil {
					logger.Debug("evicted idle sessions", "count", n)
				}
			}
		}
	}()
}
