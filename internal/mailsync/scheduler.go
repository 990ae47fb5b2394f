package mailsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSyncInterval is how often an active session reconciles folders.
const DefaultSyncInterval = 5 * time.Minute

// SyncState is the state of a user's scheduler.
type SyncState int32

const (
	SyncIdle SyncState = iota
	SyncSyncing
)

func (s SyncState) String() string {
	if s == SyncSyncing {
		return "syncing"
	}
	return "idle"
}

func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SyncOutcome is what a sync trigger reports back to its caller.
type SyncOutcome struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	FolderCount int    `json:"folder_count,omitempty"`
}

// SchedulerStatus is a snapshot of a scheduler.
type SchedulerStatus struct {
	State            SyncState  `json:"state"`
	LastSyncAt       *time.Time `json:"last_sync_at"`
	LastError        *string    `json:"last_error"`
	SyncedSinceStart bool       `json:"synced_since_start"`
}

// trigger says what started a sync.
type trigger string

const (
	triggerManual   trigger = "manual"
	triggerInitial  trigger = "initial"
	triggerPeriodic trigger = "periodic"
	triggerNewMail  trigger = "new_mail"
)

// Scheduler runs the folder sync of one user. At most one sync runs at a time; a
// request that arrives while one is running is rejected, not queued.
type Scheduler struct {
	userID   string
	store    Store
	sync     *Synchronizer
	ingest   *Ingestor
	notifier Notifier
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	state atomic.Int32
	nudge chan struct{}

	mu               sync.Mutex
	lastSyncAt       *time.Time
	lastError        *string
	syncedSinceStart bool
	cancel           context.CancelFunc
	done             chan struct{}
}

// SchedulerConfig holds the collaborators shared by every user's scheduler.
type SchedulerConfig struct {
	Store        Store
	Synchronizer *Synchronizer
	Ingestor     *Ingestor
	Notifier     Notifier
	Interval     time.Duration
	Logger       zerolog.Logger
}

// NewScheduler creates an idle scheduler for the user. The periodic loop does not run
// until Start is called.
func NewScheduler(userID string, cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Scheduler{
		userID:   userID,
		store:    cfg.Store,
		sync:     cfg.Synchronizer,
		ingest:   cfg.Ingestor,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		log:      cfg.Logger.With().Str("component", "scheduler").Str("user_id", userID).Logger(),
		nudge:    make(chan struct{}, 1),
	}
}

// SyncNow runs a manual sync, which always bypasses the gateway's folder cache.
func (s *Scheduler) SyncNow(ctx context.Context) (SyncOutcome, error) {
	return s.run(ctx, triggerManual)
}

// State returns whether a sync is running right now.
func (s *Scheduler) State() SyncState {
	return SyncState(s.state.Load())
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		State:            s.State(),
		LastSyncAt:       s.lastSyncAt,
		LastError:        s.lastError,
		SyncedSinceStart: s.syncedSinceStart,
	}
}

// Nudge asks the periodic loop to sync soon, e.g. when new mail arrived. It never blocks.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// run is the single entry point of every sync. Once started, a sync is not cancelled by
// ctx; gateway calls are bounded by the account timeout instead.
func (s *Scheduler) run(ctx context.Context, t trigger) (SyncOutcome, error) {
	if !s.state.CompareAndSwap(int32(SyncIdle), int32(SyncSyncing)) {
		return SyncOutcome{Success: false, Message: ErrSyncInProgress.Error()}, ErrSyncInProgress
	}

	ctx = context.WithoutCancel(ctx)
	log := s.log.With().Str("sync_id", uuid.NewString()).Str("trigger", string(t)).Logger()
	log.Debug().Msg("Sync started")
	started := time.Now()

	result, err := s.attempt(ctx, t)

	at := s.now()
	s.mu.Lock()
	s.syncedSinceStart = true
	if !errors.Is(err, ErrNotConfigured) {
		s.lastSyncAt = &at
		if err != nil {
			reason := Reason(err)
			s.lastError = &reason
		} else {
			s.lastError = nil
		}
	}
	s.mu.Unlock()
	s.state.Store(int32(SyncIdle))

	s.notifier.Invalidate(s.userID, KindFolders)
	s.notifier.Invalidate(s.userID, KindMessages)

	if err != nil {
		event := log.Warn()
		if errors.Is(err, ErrNotConfigured) {
			event = log.Debug()
		}
		event.Err(err).Dur("took", time.Since(started)).Msg("Sync failed")
		return SyncOutcome{Success: false, Message: Reason(err)}, err
	}

	log.Info().Int("folders", result.FolderCount).Dur("took", time.Since(started)).Msg("Sync completed")
	return SyncOutcome{Success: true, Message: "sync completed", FolderCount: result.FolderCount}, nil
}

// attempt runs one reconcile. Only a manual trigger marks the account configured ahead of
// the first sync; periodic and new-mail triggers leave a reset account unconfigured until
// the user syncs by hand.
func (s *Scheduler) attempt(ctx context.Context, t trigger) (ReconcileResult, error) {
	if t == triggerManual {
		if _, err := s.MarkConfiguredOptimistically(ctx); err != nil {
			return ReconcileResult{}, err
		}
	}

	result, err := s.sync.ReconcileFolders(ctx, s.userID, t == triggerManual)
	if err != nil {
		return result, err
	}

	if t == triggerNewMail && s.ingest != nil {
		if _, err := s.ingest.SyncFolderMessages(ctx, s.userID, "INBOX"); err != nil {
			// The folder list is already up to date; message ingestion retries on the next nudge.
			s.log.Warn().Err(err).Msg("Failed to ingest new INBOX messages")
		}
	}
	return result, nil
}

// MarkConfiguredOptimistically flips an unconfigured account with saved settings to
// configured and stamps lastSyncAt, before the first folder list has succeeded. It
// reports whether it changed anything.
func (s *Scheduler) MarkConfiguredOptimistically(ctx context.Context) (bool, error) {
	state, err := s.store.GetSyncState(ctx, s.userID)
	if err != nil {
		return false, err
	}
	if state.Configured {
		return false, nil
	}

	exists, err := s.store.AccountSettingsExist(ctx, s.userID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	now := s.now()
	if err := s.store.MarkConfigured(ctx, s.userID, &now); err != nil {
		return false, err
	}
	s.log.Info().Msg("Account marked configured ahead of first sync")
	return true, nil
}

// Start launches the periodic loop: an initial sync, then one every interval, plus one
// per Nudge. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.syncedSinceStart = false
	go s.loop(ctx, s.done)
}

// Stop ends the periodic loop and waits until it has exited, including any sync it was
// running.
func (s *Scheduler) Stop() {
	if done := s.stop(); done != nil {
		<-done
	}
}

// stop cancels the loop without waiting for it.
func (s *Scheduler) stop() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.mu.Lock()
	synced := s.syncedSinceStart
	s.mu.Unlock()
	if !synced {
		s.trigger(ctx, triggerInitial)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, triggerPeriodic)
		case <-s.nudge:
			s.trigger(ctx, triggerNewMail)
		}
	}
}

// trigger runs a background sync. A busy scheduler skips the tick.
func (s *Scheduler) trigger(ctx context.Context, t trigger) {
	if ctx.Err() != nil {
		return
	}

	if _, err := s.run(ctx, t); errors.Is(err, ErrSyncInProgress) {
		s.log.Debug().Str("trigger", string(t)).Msg("Skipping sync, another one is running")
	}
}
