package mailsync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vdavid/mailsync/internal/imap"
)

type session struct {
	scheduler *Scheduler
	refs      int
	stopWatch context.CancelFunc
}

// SessionManager owns one Scheduler per user. A user's periodic sync and INBOX watcher
// run while at least one of their sessions is active.
type SessionManager struct {
	cfg     SchedulerConfig
	gateway imap.Gateway
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionManager creates a manager. gateway may be nil, which disables INBOX watching.
func NewSessionManager(cfg SchedulerConfig, gateway imap.Gateway) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		gateway:  gateway,
		log:      cfg.Logger.With().Str("component", "sessions").Logger(),
		sessions: make(map[string]*session),
	}
}

// session returns the user's session, creating an inactive one. Caller holds m.mu.
func (m *SessionManager) session(userID string) *session {
	sess, ok := m.sessions[userID]
	if !ok {
		sess = &session{scheduler: NewScheduler(userID, m.cfg)}
		m.sessions[userID] = sess
	}
	return sess
}

// Scheduler returns the user's scheduler without activating it.
func (m *SessionManager) Scheduler(userID string) *Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session(userID).scheduler
}

// Activate registers one active session. The first one starts the user's scheduler.
func (m *SessionManager) Activate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.session(userID)
	sess.refs++
	if sess.refs > 1 {
		return
	}

	sess.scheduler.Start()
	m.startWatch(userID, sess)
	m.log.Debug().Str("user_id", userID).Msg("Sync session activated")
}

// Deactivate unregisters one active session. The last one stops the user's scheduler;
// a sync in flight still completes.
func (m *SessionManager) Deactivate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok || sess.refs == 0 {
		return
	}

	sess.refs--
	if sess.refs > 0 {
		return
	}

	sess.scheduler.stop()
	if sess.stopWatch != nil {
		sess.stopWatch()
		sess.stopWatch = nil
	}
	m.log.Debug().Str("user_id", userID).Msg("Sync session deactivated")
}

// ActiveSessions returns how many sessions of the user are active.
func (m *SessionManager) ActiveSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[userID]; ok {
		return sess.refs
	}
	return 0
}

// RestartWatch restarts the user's INBOX watcher, e.g. after their settings changed.
func (m *SessionManager) RestartWatch(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok || sess.refs == 0 {
		return
	}
	if sess.stopWatch != nil {
		sess.stopWatch()
		sess.stopWatch = nil
	}
	m.startWatch(userID, sess)
}

// startWatch runs the IDLE watcher that nudges the scheduler. Caller holds m.mu.
func (m *SessionManager) startWatch(userID string, sess *session) {
	if m.gateway == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess.stopWatch = cancel
	scheduler := sess.scheduler

	go func() {
		settings, err := configuredSettings(ctx, m.cfg.Store, userID)
		if err != nil {
			m.log.Debug().Err(err).Str("user_id", userID).Msg("Not watching INBOX")
			return
		}
		m.gateway.WatchInbox(ctx, imap.CredentialsFromSettings(settings), scheduler.Nudge)
	}()
}

// Close stops every scheduler and watcher and waits for running syncs to finish.
func (m *SessionManager) Close() {
	m.mu.Lock()
	schedulers := make([]*Scheduler, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.stopWatch != nil {
			sess.stopWatch()
			sess.stopWatch = nil
		}
		sess.refs = 0
		schedulers = append(schedulers, sess.scheduler)
	}
	m.mu.Unlock()

	for _, scheduler := range schedulers {
		scheduler.Stop()
	}
}
