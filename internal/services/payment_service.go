package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"flick_kiosk/internal/models"
)

// DefaultPaymentWindow is the countdown armed when an order enters payment,
// in seconds. The server-declared expiry can only tighten it, never extend it.
const DefaultPaymentWindow = 900

// SessionStore persists the kiosk's single payment session between restarts.
type SessionStore interface {
	Load() (*models.PaymentSession, error)
	Save(session *models.PaymentSession) error
	Clear() error
}

// PaymentService owns the payment session state machine:
// NEW -> PENDING -> {COMPLETED, FAILED, EXPIRED}. PENDING is the only
// non-terminal active state. The countdown tick, the status push channel and
// user cancellation all race to write the terminal state; the first writer
// wins and every later write is a no-op. All mutations are serialized behind
// one mutex and checkpointed through the session store.
type PaymentService struct {
	mu         sync.Mutex
	session    models.PaymentSession
	store      SessionStore
	window     int
	onTerminal func(models.PaymentStatus)
	logger     *zap.SugaredLogger
}

func NewPaymentService(store SessionStore, windowSeconds int, logger *zap.SugaredLogger) *PaymentService {
	if windowSeconds <= 0 {
		windowSeconds = DefaultPaymentWindow
	}
	return &PaymentService{
		store:  store,
		window: windowSeconds,
		logger: logger,
	}
}

// SetTerminalHandler registers a callback fired exactly once per terminal
// transition, outside the session lock. The wiring uses it to stop the
// countdown and clear the cart.
func (s *PaymentService) SetTerminalHandler(fn func(models.PaymentStatus)) {
	s.mu.Lock()
	s.onTerminal = fn
	s.mu.Unlock()
}

// Session returns a copy of the current session.
func (s *PaymentService) Session() models.PaymentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// CreatePayment resets the session for a freshly placed order and arms the
// default countdown window. Any prior request id is implicitly invalidated.
func (s *PaymentService) CreatePayment(orderID int64) {
	s.mu.Lock()
	s.session = models.PaymentSession{
		OrderID:          &orderID,
		RemainingSeconds: s.window,
		IsActive:         true,
		Status:           models.PaymentStatusPending,
	}
	s.persistLocked()
	s.mu.Unlock()
}

// SetPaymentRequest binds a freshly created payment request to the session.
// The countdown is reconciled against the server-declared expiry: the tighter
// bound wins, floored at zero.
func (s *PaymentService) SetPaymentRequest(requestID int64, code string, status models.PaymentStatus, method models.RequestMethod, expiresAt time.Time) {
	s.mu.Lock()
	sess := &s.session
	sess.RequestID = &requestID
	sess.RequestCode = code
	sess.RequestMethod = method
	exp := expiresAt
	sess.ExpiresAt = &exp

	until := int(time.Until(expiresAt).Round(time.Second).Seconds())
	if until < 0 {
		until = 0
	}
	if until < sess.RemainingSeconds {
		sess.RemainingSeconds = until
	}

	sess.Status = status
	sess.IsActive = status == models.PaymentStatusPending
	s.persistLocked()
	fired := s.terminalFiredLocked(status)
	s.mu.Unlock()
	s.fireTerminal(fired)
}

// SetStatus applies a pushed or locally decided status. Once the session is
// terminal, further calls are no-ops.
func (s *PaymentService) SetStatus(status models.PaymentStatus) {
	s.mu.Lock()
	if s.session.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.session.Status = status
	if status.IsTerminal() {
		s.session.IsActive = false
	}
	s.persistLocked()
	fired := s.terminalFiredLocked(status)
	s.mu.Unlock()
	s.fireTerminal(fired)
}

// DecrementTimer advances the countdown by one tick. When the countdown
// reaches zero on a tick it forces EXPIRED on that same tick and reports
// true, so the caller can fire the cancellation gateway exactly once. Ticks
// arriving after a terminal transition are no-ops.
func (s *PaymentService) DecrementTimer() bool {
	s.mu.Lock()
	sess := &s.session
	if !sess.IsActive || sess.Status != models.PaymentStatusPending {
		if sess.RemainingSeconds < 0 {
			sess.RemainingSeconds = 0
		}
		s.mu.Unlock()
		return false
	}
	if sess.RemainingSeconds > 0 {
		sess.RemainingSeconds--
	}
	if sess.RemainingSeconds > 0 {
		s.persistLocked()
		s.mu.Unlock()
		return false
	}
	sess.RemainingSeconds = 0
	sess.Status = models.PaymentStatusExpired
	sess.IsActive = false
	s.persistLocked()
	s.mu.Unlock()
	s.fireTerminal(models.PaymentStatusExpired)
	return true
}

// ResetPaymentRequest clears the bound request and re-arms PENDING, keeping
// the order id and the running countdown. Used when the customer switches
// payment method mid-flow.
func (s *PaymentService) ResetPaymentRequest() {
	s.mu.Lock()
	sess := &s.session
	sess.RequestID = nil
	sess.RequestCode = ""
	sess.RequestMethod = ""
	sess.ExpiresAt = nil
	sess.Status = models.PaymentStatusPending
	sess.IsActive = true
	s.persistLocked()
	s.mu.Unlock()
}

// ResetPayment clears the whole session. Called after a completed handoff,
// after cancellation, or when the customer backs out to the catalog.
func (s *PaymentService) ResetPayment() {
	s.mu.Lock()
	s.session = models.PaymentSession{}
	if err := s.store.Clear(); err != nil {
		s.logger.Warnw("failed to clear persisted payment session", "err", err)
	}
	s.mu.Unlock()
}

// CancelPayment forces the session into EXPIRED without clearing the order
// and request identifiers; the server-side cancel call happens out of band.
func (s *PaymentService) CancelPayment() {
	s.mu.Lock()
	if s.session.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.session.Status = models.PaymentStatusExpired
	s.session.IsActive = false
	s.persistLocked()
	s.mu.Unlock()
	s.fireTerminal(models.PaymentStatusExpired)
}

// HasRequestFor reports whether a request code is already bound for the given
// method. Guards against duplicate request creation.
func (s *PaymentService) HasRequestFor(method models.RequestMethod) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.IsActive && s.session.RequestCode != "" && s.session.RequestMethod == method
}

// Recover inspects the persisted session on cold start. A session that is
// inactive, non-pending or out of time is discarded before anything reads it;
// a stale session must never resurface on the payment screen with no way to
// reach a terminal state. Recovery never reopens the status channel.
func (s *PaymentService) Recover() error {
	sess, err := s.store.Load()
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if !sess.IsActive || sess.Status != models.PaymentStatusPending || sess.RemainingSeconds <= 0 {
		s.logger.Infow("discarding stale payment session",
			"status", sess.Status, "remaining_seconds", sess.RemainingSeconds)
		return s.store.Clear()
	}
	s.mu.Lock()
	s.session = *sess
	s.mu.Unlock()
	s.logger.Infow("resumed payment session",
		"order_id", sess.OrderID, "remaining_seconds", sess.RemainingSeconds)
	return nil
}

func (s *PaymentService) persistLocked() {
	snapshot := s.session
	if err := s.store.Save(&snapshot); err != nil {
		s.logger.Warnw("failed to persist payment session", "err", err)
	}
}

func (s *PaymentService) terminalFiredLocked(status models.PaymentStatus) models.PaymentStatus {
	if status.IsTerminal() {
		return status
	}
	return ""
}

func (s *PaymentService) fireTerminal(status models.PaymentStatus) {
	if status == "" {
		return
	}
	s.mu.Lock()
	fn := s.onTerminal
	s.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
