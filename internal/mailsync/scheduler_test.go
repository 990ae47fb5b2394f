package mailsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailsync/internal/imap"
)

func newTestScheduler(store *fakeStore, gateway *fakeGateway, notifier Notifier) *Scheduler {
	return NewScheduler("user-1", testSchedulerConfig(store, gateway, notifier))
}

func testSchedulerConfig(store *fakeStore, gateway *fakeGateway, notifier Notifier) SchedulerConfig {
	return SchedulerConfig{
		Store:        store,
		Synchronizer: newTestSynchronizer(store, gateway, notifier),
		Ingestor:     NewIngestor(store, gateway, time.Minute, zerolog.Nop()),
		Notifier:     notifier,
		Interval:     time.Hour,
		Logger:       zerolog.Nop(),
	}
}

func TestSyncNow(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox(), remoteFolder("Sent", `\Sent`, 1))
	notifier := &recordingNotifier{}
	scheduler := newTestScheduler(store, gateway, notifier)

	outcome, err := scheduler.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.FolderCount)
	assert.Equal(t, []bool{true}, gateway.forceRefresh, "manual sync bypasses the folder cache")

	status := scheduler.Status()
	assert.Equal(t, SyncIdle, status.State)
	assert.NotNil(t, status.LastSyncAt)
	assert.Nil(t, status.LastError)
	assert.Equal(t, 1, notifier.count("user-1:folders"))
	assert.Equal(t, 1, notifier.count("user-1:messages"))
}

func TestPeriodicSyncUsesFolderCache(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox())
	scheduler := newTestScheduler(store, gateway, nil)

	_, err := scheduler.run(context.Background(), triggerPeriodic)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, gateway.forceRefresh)
}

func TestSyncNowSingleFlight(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox())
	gateway.listGate = make(chan struct{})
	gateway.listEntered = make(chan struct{}, 1)
	scheduler := newTestScheduler(store, gateway, nil)

	type result struct {
		outcome SyncOutcome
		err     error
	}
	first := make(chan result, 1)
	go func() {
		outcome, err := scheduler.SyncNow(context.Background())
		first <- result{outcome, err}
	}()

	select {
	case <-gateway.listEntered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the gateway")
	}
	assert.Equal(t, SyncSyncing, scheduler.State())

	outcome, err := scheduler.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.False(t, outcome.Success)
	assert.Equal(t, "sync already in progress", outcome.Message)

	close(gateway.listGate)
	got := <-first
	require.NoError(t, got.err)
	assert.True(t, got.outcome.Success)

	_, lists := gateway.calls()
	assert.Equal(t, 1, lists, "rejected request never reached the gateway")
	assert.Equal(t, SyncIdle, scheduler.State())
}

func TestSyncNowIgnoresCallerCancellation(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox())
	gateway.listGate = make(chan struct{})
	gateway.listEntered = make(chan struct{}, 1)
	scheduler := newTestScheduler(store, gateway, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := scheduler.SyncNow(ctx)
		done <- err
	}()

	<-gateway.listEntered
	cancel()
	close(gateway.listGate)

	require.NoError(t, <-done)
	assert.Len(t, store.folderRows("user-1"), 1)
}

func TestSyncNowFailure(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway()
	gateway.listErr = &imap.GatewayError{Op: "login", Reason: "authentication failed"}
	notifier := &recordingNotifier{}
	scheduler := newTestScheduler(store, gateway, notifier)

	outcome, err := scheduler.SyncNow(context.Background())

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.False(t, outcome.Success)
	assert.Equal(t, "authentication failed", outcome.Message)

	status := scheduler.Status()
	require.NotNil(t, status.LastError)
	assert.Equal(t, "authentication failed", *status.LastError)
	assert.Equal(t, SyncIdle, status.State)
	assert.Equal(t, 1, notifier.count("user-1:folders"), "clients refresh after failures too")
}

func TestSyncNotConfigured(t *testing.T) {
	store := newFakeStore()
	gateway := newFakeGateway(inbox())
	scheduler := newTestScheduler(store, gateway, nil)

	outcome, err := scheduler.SyncNow(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, outcome.Success)
	assert.Equal(t, "mail account is not configured", outcome.Message)

	status := scheduler.Status()
	assert.Nil(t, status.LastSyncAt)
	assert.Nil(t, status.LastError)
	_, lists := gateway.calls()
	assert.Zero(t, lists)
}

func TestMarkConfiguredOptimistically(t *testing.T) {
	newUnconfigured := func() *fakeStore {
		store := newFakeStore()
		store.configure("user-1")
		store.states["user-1"].Configured = false
		return store
	}

	t.Run("periodic sync stays quiet until the user syncs", func(t *testing.T) {
		store := newUnconfigured()
		gateway := newFakeGateway(inbox())
		scheduler := newTestScheduler(store, gateway, nil)

		_, err := scheduler.run(context.Background(), triggerPeriodic)
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.False(t, store.state("user-1").Configured)

		_, err = scheduler.SyncNow(context.Background())
		require.NoError(t, err)
		assert.True(t, store.state("user-1").Configured)
		_, lists := gateway.calls()
		assert.Equal(t, 1, lists)
	})

	t.Run("stamps last sync time", func(t *testing.T) {
		store := newUnconfigured()
		scheduler := newTestScheduler(store, newFakeGateway(), nil)
		at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		scheduler.now = func() time.Time { return at }

		changed, err := scheduler.MarkConfiguredOptimistically(context.Background())
		require.NoError(t, err)
		assert.True(t, changed)
		state := store.state("user-1")
		assert.True(t, state.Configured)
		require.NotNil(t, state.LastSyncAt)
		assert.Equal(t, at, *state.LastSyncAt)

		changed, err = scheduler.MarkConfiguredOptimistically(context.Background())
		require.NoError(t, err)
		assert.False(t, changed, "already configured")
	})

	t.Run("no settings", func(t *testing.T) {
		store := newFakeStore()
		scheduler := newTestScheduler(store, newFakeGateway(), nil)

		changed, err := scheduler.MarkConfiguredOptimistically(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)
		assert.False(t, store.state("user-1").Configured)
	})
}

func TestSchedulerStartRunsInitialSync(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox())
	scheduler := newTestScheduler(store, gateway, nil)

	scheduler.Start()
	scheduler.Start()

	require.Eventually(t, func() bool {
		return scheduler.Status().SyncedSinceStart
	}, waitFor, tick)

	scheduler.Stop()
	scheduler.Stop()

	_, lists := gateway.calls()
	assert.Equal(t, 1, lists)
	assert.Equal(t, []bool{false}, gateway.forceRefresh)
}

func TestSchedulerPeriodicTick(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox())
	cfg := testSchedulerConfig(store, gateway, nil)
	cfg.Interval = 20 * time.Millisecond
	scheduler := NewScheduler("user-1", cfg)

	scheduler.Start()
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		_, lists := gateway.calls()
		return lists >= 3
	}, waitFor, tick)
}

func TestSchedulerNudgeIngestsInbox(t *testing.T) {
	store := newFakeStore()
	store.configure("user-1")
	gateway := newFakeGateway(inbox())

	var (
		mu      sync.Mutex
		fetched []string
	)
	gateway.fetch = func(path string, _ uint32, _ int) (*imap.FetchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		fetched = append(fetched, path)
		return &imap.FetchResult{UIDValidity: 1}, nil
	}
	scheduler := newTestScheduler(store, gateway, nil)

	scheduler.Start()
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		return scheduler.Status().SyncedSinceStart
	}, waitFor, tick)

	scheduler.Nudge()
	scheduler.Nudge()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fetched) > 0
	}, waitFor, tick)

	mu.Lock()
	assert.Equal(t, "INBOX", fetched[0])
	mu.Unlock()
}

func TestSyncStateMarshalText(t *testing.T) {
	text, err := SyncSyncing.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "syncing", string(text))
	assert.Equal(t, "idle", SyncIdle.String())
}
