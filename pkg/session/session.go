// Package session owns the per-process session record and the periodic
// credential refresh used in the multi-tenant anonymous mode. One manager
// exists per process; front ends reach it through Get after Init.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/store"
	"threadsync/pkg/telemetry"
)

// DefaultRefreshInterval is how often credentials are refreshed when the
// config does not override it.
const DefaultRefreshInterval = 48 * time.Hour

// Refresher asks the credential collaborator for a replacement access
// token. An empty return means "keep the current token".
type Refresher func(ctx context.Context) (string, error)

// Manager tracks the session record and the current access token.
type Manager struct {
	mu        sync.Mutex
	store     *store.Store
	token     string
	refresher Refresher
	cancel    context.CancelFunc
}

var (
	instance *Manager
	once     sync.Once
)

// Init creates the process-wide manager. Later calls return the first
// instance; the arguments of subsequent calls are ignored.
func Init(s *store.Store, token string, r Refresher) *Manager {
	once.Do(func() {
		instance = &Manager{store: s, token: token, refresher: r}
	})
	return instance
}

// Get returns the process-wide manager, or nil before Init.
func Get() *Manager { return instance }

// reset is a test hook: it clears the singleton.
func reset() {
	instance = nil
	once = sync.Once{}
}

// Session returns the session record, creating it lazily on first access.
func (m *Manager) Session() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess := m.store.GetSession(); sess != nil {
		return *sess
	}
	sess := models.NewSession()
	if err := m.store.SaveSession(sess); err != nil {
		// Persist failure degrades to an in-memory session for this run.
		logger.Error("session_create_failed", zap.Error(err))
	} else {
		logger.Info("session_created", zap.String("session", sess.ID))
	}
	return sess
}

// Token returns the current access token. Matches transport.TokenSource.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// MarkSynced records a successful server round trip.
func (m *Manager) MarkSynced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.store.GetSession()
	if sess == nil {
		return
	}
	sess.LastSyncedTS = time.Now().UTC().UnixNano()
	if err := m.store.SaveSession(*sess); err != nil {
		logger.Warn("session_sync_mark_failed", zap.Error(err))
	}
}

// StartRefresh launches the refresh scheduler. interval is used when
// cronExpr is empty; a non-empty cronExpr must be valid cron syntax and
// takes precedence. Returns a stop function.
func (m *Manager) StartRefresh(ctx context.Context, interval time.Duration, cronExpr string) (func(), error) {
	if m.refresher == nil {
		return func() {}, nil
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if cronExpr != "" && !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid refresh cron expression: %s", cronExpr)
	}
	ctx2, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	go m.runScheduler(ctx2, interval, cronExpr)
	logger.Info("refresh_scheduler_started",
		zap.Duration("interval", interval), zap.String("cron", cronExpr))
	return cancel, nil
}

// Close stops the scheduler if running.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) runScheduler(ctx context.Context, interval time.Duration, cronExpr string) {
	for {
		wait := interval
		if cronExpr != "" {
			next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
			if err != nil {
				logger.Error("refresh_nexttick_failed", zap.String("cron", cronExpr), zap.Error(err))
				wait = 30 * time.Second
			} else {
				wait = time.Until(next)
				if wait <= 0 {
					wait = time.Second
				}
			}
		}
		select {
		case <-ctx.Done():
			logger.Info("refresh_scheduler_stopping")
			return
		case <-time.After(wait):
			m.RefreshNow(ctx)
		}
	}
}

// RefreshNow performs one credential refresh immediately.
func (m *Manager) RefreshNow(ctx context.Context) {
	tok, err := m.refresher(ctx)
	if err != nil {
		telemetry.TokenRefreshes.WithLabelValues("error").Inc()
		logger.Error("token_refresh_failed", zap.Error(err))
		return
	}
	if tok == "" {
		telemetry.TokenRefreshes.WithLabelValues("noop").Inc()
		return
	}
	m.mu.Lock()
	m.token = tok
	sess := m.store.GetSession()
	if sess != nil {
		sess.LastRefreshTS = time.Now().UTC().UnixNano()
		if err := m.store.SaveSession(*sess); err != nil {
			logger.Warn("refresh_mark_failed", zap.Error(err))
		}
	}
	m.mu.Unlock()
	telemetry.TokenRefreshes.WithLabelValues("ok").Inc()
	logger.Info("token_refreshed")
}
