package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"threadsync/pkg/chat"
	"threadsync/pkg/clientstate"
	"threadsync/pkg/config"
	"threadsync/pkg/logger"
	"threadsync/pkg/session"
	"threadsync/pkg/store"
	"threadsync/pkg/transport"
)

// App wires the client components and owns their lifecycle.
type App struct {
	cfg     *config.Config
	version string

	store  *store.Store
	cstate *clientstate.State
	sess   *session.Manager
	agent  *transport.HTTPAgent
	orch   *chat.Orchestrator

	stopRefresh func()
}

// New initializes the store, client state, session manager, transport and
// orchestrator. It does not start the refresh scheduler or the input loop;
// call Run for those.
func New(cfg *config.Config, version string) (*App, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.Storage.DBPath, err)
	}
	cs, err := clientstate.Load(cfg.Storage.StateDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load client state: %w", err)
	}

	a := &App{cfg: cfg, version: version, store: st, cstate: cs}

	a.agent = transport.NewHTTPAgent(cfg.Agent.BaseURL, func() string {
		if a.sess != nil {
			return a.sess.Token()
		}
		return cfg.Agent.Token
	})
	if n := cfg.Agent.MaxLineBytes.Int64(); n > 0 {
		a.agent.MaxLineBytes = n
	}

	a.sess = session.Init(st, cfg.Agent.Token, a.refreshToken)
	a.sess.Session()

	a.orch = chat.New(chat.Options{
		Store:       st,
		Agent:       a.agent,
		Feedback:    a.agent,
		ClientState: cs,
		Session:     a.sess,
		Events:      &printer{},
	})
	return a, nil
}

// refreshToken asks the backend for a replacement access token. An empty
// token in the response keeps the current one.
func (a *App) refreshToken(ctx context.Context) (string, error) {
	b, err := a.agent.Send(ctx, transport.PathRefresh, map[string]string{})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("parse refresh response: %w", err)
	}
	return strings.TrimSpace(out.Token), nil
}

// Run starts the refresh scheduler, replays any pending query buffered
// before the last shutdown and blocks in the input loop until ctx is
// cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	stop, err := a.sess.StartRefresh(ctx,
		a.cfg.Session.RefreshInterval.Duration(), a.cfg.Session.RefreshCron)
	if err != nil {
		return err
	}
	a.stopRefresh = stop

	if q := a.cstate.TakePendingQuery(); q != "" {
		logger.Info("pending_query_replayed")
		if err := a.orch.Submit(ctx, q); err != nil {
			logger.Warn("pending_query_rejected")
		}
	}

	return a.repl(ctx)
}

// Close releases resources in reverse start order.
func (a *App) Close() {
	if a.stopRefresh != nil {
		a.stopRefresh()
	}
	if a.orch != nil {
		a.orch.Close()
	}
	if a.sess != nil {
		a.sess.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = logger.Sync()
}
