// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robbob/launcher/internal/domain"
)

// GateConfig holds re-check timing for the access gate.
type GateConfig struct {
	FirstCheckDelay time.Duration
	CheckInterval   time.Duration
}

// DefaultGateConfig returns the production re-check timing.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		FirstCheckDelay: 60 * time.Second,
		CheckInterval:   5 * time.Minute,
	}
}

// AccessGate decides whether privileged activation is allowed. It keeps the
// persisted subscription record in memory and re-checks it in the background
// while verified. A confirmed revocation invokes the callback passed to Init.
type AccessGate struct {
	client domain.SubscriptionClient
	store  domain.SubscriptionStore
	config GateConfig
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	record    domain.SubscriptionRecord
	onRevoked func()
	gen       uint64 // bumped whenever the loop is stopped or restarted
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewAccessGate creates a gate. Call Init before use.
func NewAccessGate(
	client domain.SubscriptionClient,
	store domain.SubscriptionStore,
	config GateConfig,
	logger *zap.Logger,
) *AccessGate {
	def := DefaultGateConfig()
	if config.FirstCheckDelay <= 0 {
		config.FirstCheckDelay = def.FirstCheckDelay
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	return &AccessGate{
		client: client,
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Init loads the persisted record and starts the re-check loop when it is
// verified. onRevoked runs after a confirmed revocation has been applied; it
// must not call Close.
func (g *AccessGate) Init(onRevoked func()) error {
	rec, err := g.store.LoadSubscription()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.onRevoked = onRevoked
	if err != nil {
		g.record = domain.SubscriptionRecord{}
		return fmt.Errorf("load subscription: %w", err)
	}
	g.record = rec
	if g.authorizedLocked() {
		g.startLoopLocked()
		g.logger.Info("subscription loaded", zap.Int64("user_id", *rec.UserID))
	}
	return nil
}

// Reload re-reads the persisted record, restarting or stopping the loop to
// match. It does not invoke the revocation callback.
func (g *AccessGate) Reload() error {
	rec, err := g.store.LoadSubscription()
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	was := g.authorizedLocked()
	g.record = rec
	now := g.authorizedLocked()
	switch {
	case now && !was:
		g.startLoopLocked()
	case !now && was:
		g.stopLoopLocked()
	}
	return nil
}

// VerifyCode exchanges a one-time code for a verified subscription.
func (g *AccessGate) VerifyCode(ctx context.Context, code string) domain.VerifyResult {
	code = strings.TrimSpace(code)
	if code == "" {
		return failedVerify(fmt.Errorf("%w: empty code", domain.ErrInvalidCode), "")
	}

	resp, err := g.client.Verify(ctx, code)
	if err != nil {
		g.logger.Warn("code verification failed", zap.Error(err))
		return failedVerify(err, "")
	}

	subscribed := resp.Subscribed != nil && *resp.Subscribed
	switch {
	case resp.Success && subscribed && resp.UserID != nil:
	case resp.Success && subscribed:
		return failedVerify(fmt.Errorf("%w: verification response has no user id", domain.ErrParse), "")
	case resp.Success:
		return failedVerify(domain.ErrNotSubscribed, "")
	default:
		return failedVerify(fmt.Errorf("%w: %s", domain.ErrInvalidCode, resp.Error), resp.Error)
	}

	userID := *resp.UserID
	rec := domain.SubscriptionRecord{Verified: true, UserID: &userID, LastCheckedAt: g.now()}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.SaveSubscription(rec); err != nil {
		return failedVerify(fmt.Errorf("save subscription: %w", err), "")
	}
	g.record = rec
	g.startLoopLocked()

	g.logger.Info("user verified", zap.Int64("user_id", userID))
	return domain.VerifyResult{Success: true, UserID: userID}
}

func failedVerify(err error, serverMsg string) domain.VerifyResult {
	msg := serverMsg
	if msg == "" {
		msg = domain.UserMessage(err)
	}
	return domain.VerifyResult{Error: msg, Err: err}
}

// CanActivate implements domain.AccessChecker.
func (g *AccessGate) CanActivate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authorizedLocked()
}

// Status returns a snapshot of the gate.
func (g *AccessGate) Status() domain.GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := domain.GateStatus{
		Verified:      g.authorizedLocked(),
		LastCheckedAt: g.record.LastCheckedAt,
		Checking:      g.cancel != nil,
	}
	if g.record.UserID != nil {
		id := *g.record.UserID
		st.UserID = &id
	}
	return st
}

// Refresh runs one subscription check now. Unlike the background loop it
// reports transport errors. A known but unverified user whose subscription
// is confirmed again becomes verified.
func (g *AccessGate) Refresh(ctx context.Context) error {
	g.mu.Lock()
	if g.record.UserID == nil {
		g.mu.Unlock()
		return fmt.Errorf("%w: no verified user", domain.ErrAccessDenied)
	}
	userID := *g.record.UserID
	g.mu.Unlock()

	resp, err := g.client.Check(ctx, userID)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", domain.ErrNetwork, resp.Error)
	}
	if resp.Subscribed == nil {
		return fmt.Errorf("%w: check reply has no subscription status", domain.ErrParse)
	}

	if !*resp.Subscribed {
		g.revoke(userID, 0, false)
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.record.UserID == nil || *g.record.UserID != userID {
		return nil
	}
	g.record.LastCheckedAt = g.now()
	if !g.record.Verified {
		g.record.Verified = true
		g.startLoopLocked()
		g.logger.Info("subscription restored", zap.Int64("user_id", userID))
	}
	g.persistLocked()
	return nil
}

// Reset forgets the user and stops the loop.
func (g *AccessGate) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLoopLocked()
	g.record = domain.SubscriptionRecord{}
	if err := g.store.ClearSubscription(); err != nil {
		return fmt.Errorf("clear subscription: %w", err)
	}
	g.logger.Info("verification reset")
	return nil
}

// Close stops the loop and waits for it to exit.
func (g *AccessGate) Close() {
	g.mu.Lock()
	g.stopLoopLocked()
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *AccessGate) authorizedLocked() bool {
	return g.record.Verified && g.record.UserID != nil
}

func (g *AccessGate) startLoopLocked() {
	g.stopLoopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.wg.Add(1)
	go g.loop(ctx, g.gen)
}

func (g *AccessGate) stopLoopLocked() {
	g.gen++
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

// loop checks after FirstCheckDelay and then every CheckInterval until the
// subscription is revoked or the loop is stopped.
func (g *AccessGate) loop(ctx context.Context, gen uint64) {
	defer g.wg.Done()

	timer := time.NewTimer(g.config.FirstCheckDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if !g.check(ctx, gen) {
		return
	}

	ticker := time.NewTicker(g.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !g.check(ctx, gen) {
				return
			}
		}
	}
}

// check runs one background check and reports whether the loop should go on.
// Transport errors and server-side errors keep the current state.
func (g *AccessGate) check(ctx context.Context, gen uint64) bool {
	g.mu.Lock()
	if gen != g.gen || !g.authorizedLocked() {
		g.mu.Unlock()
		return false
	}
	userID := *g.record.UserID
	g.mu.Unlock()

	resp, err := g.client.Check(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		g.logger.Warn("subscription check failed, keeping access", zap.Error(err))
		return true
	}
	if resp.Error != "" {
		g.logger.Warn("subscription service error, keeping access", zap.String("error", resp.Error))
		return true
	}
	if resp.Subscribed == nil {
		g.logger.Warn("subscription check reply has no status, keeping access")
		return true
	}

	if !*resp.Subscribed {
		g.revoke(userID, gen, true)
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		return false
	}
	g.record.LastCheckedAt = g.now()
	g.persistLocked()
	g.logger.Debug("subscription confirmed", zap.Int64("user_id", userID))
	return true
}

// revoke flips a verified record to unverified, persists it, stops the loop
// and then calls the revocation callback outside the lock. When fromLoop is
// set the flip only applies to the loop generation that observed it.
func (g *AccessGate) revoke(userID int64, gen uint64, fromLoop bool) {
	g.mu.Lock()
	if (fromLoop && gen != g.gen) || !g.authorizedLocked() || *g.record.UserID != userID {
		g.mu.Unlock()
		return
	}
	g.record.Verified = false
	g.record.LastCheckedAt = g.now()
	g.persistLocked()
	g.stopLoopLocked()
	cb := g.onRevoked
	g.mu.Unlock()

	g.logger.Warn("subscription revoked", zap.Int64("user_id", userID))
	if cb != nil {
		cb()
	}
}

func (g *AccessGate) persistLocked() {
	if err := g.store.SaveSubscription(g.record); err != nil {
		g.logger.Error("failed to persist subscription", zap.Error(err))
	}
}

// Ensure AccessGate implements domain.AccessChecker.
var _ domain.AccessChecker = (*AccessGate)(nil)
