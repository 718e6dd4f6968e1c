package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"waiting-client/internal/api"
	"waiting-client/internal/status"
	"waiting-client/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwnerAPI struct {
	mu        sync.Mutex
	snapshots []models.QueueSnapshot
	listCalls int
	listErr   error
	pollErr   error
	polls     int
	cutlines  []int
	clearErr  error
}

func (f *fakeOwnerAPI) WaitingList(ctx context.Context, storeID int64) (models.QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return models.QueueSnapshot{}, f.listErr
	}
	if len(f.snapshots) == 0 {
		return models.QueueSnapshot{}, nil
	}
	snap := f.snapshots[0]
	if len(f.snapshots) > 1 {
		f.snapshots = f.snapshots[1:]
	}
	return snap, nil
}

func (f *fakeOwnerAPI) PollWaiting(ctx context.Context, storeID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return f.pollErr
}

func (f *fakeOwnerAPI) ClearWaiting(ctx context.Context, storeID int64, cutline int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutlines = append(f.cutlines, cutline)
	return f.clearErr
}

func (f *fakeOwnerAPI) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeOwnerAPI) queue(snaps ...models.QueueSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = snaps
}

func snapshotOf(entries ...models.QueueEntry) models.QueueSnapshot {
	return models.QueueSnapshot{TotalWaitingNumber: len(entries), UserIDs: entries}
}

func accept() Confirmer {
	return ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
}

func TestOwnerConsole_StartFetchesImmediately(t *testing.T) {
	fake := &fakeOwnerAPI{}
	fake.queue(snapshotOf(models.QueueEntry{UserID: 1, Rank: 1}))
	console := NewOwnerConsole(fake, 5, WithPollInterval(time.Hour))

	console.Start(context.Background())
	defer console.Stop()

	require.Eventually(t, func() bool {
		_, ok := console.Snapshot()
		return ok
	}, time.Second, 5*time.Millisecond)

	snap, _ := console.Snapshot()
	assert.Equal(t, 1, snap.TotalWaitingNumber)
}

func TestOwnerConsole_PollsOnInterval(t *testing.T) {
	fake := &fakeOwnerAPI{}
	console := NewOwnerConsole(fake, 5, WithPollInterval(10*time.Millisecond))

	console.Start(context.Background())
	console.Start(context.Background())
	require.Eventually(t, func() bool { return fake.lists() >= 3 }, time.Second, 5*time.Millisecond)

	console.Stop()
	console.Stop()

	stopped := fake.lists()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, fake.lists())
}

func TestOwnerConsole_StopsWithContext(t *testing.T) {
	fake := &fakeOwnerAPI{}
	console := NewOwnerConsole(fake, 5, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	console.Start(ctx)
	require.Eventually(t, func() bool { return fake.lists() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	console.Stop()

	stopped := fake.lists()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, fake.lists())
}

// Property 7
func TestOwnerConsole_FailedAdmitKeepsPolling(t *testing.T) {
	fake := &fakeOwnerAPI{pollErr: &api.APIError{StatusCode: http.StatusInternalServerError, Message: "queue busy"}}

	var mu sync.Mutex
	var notices []Notice
	console := NewOwnerConsole(fake, 5,
		WithPollInterval(10*time.Millisecond),
		WithOnError(func(n Notice) {
			mu.Lock()
			defer mu.Unlock()
			notices = append(notices, n)
		}),
	)
	console.Start(context.Background())
	defer console.Stop()

	err := console.AdmitFirst(context.Background())
	require.Error(t, err)

	after := fake.lists()
	require.Eventually(t, func() bool { return fake.lists() > after+1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeActionFailed, notices[0].Kind)
	assert.Equal(t, "queue busy", notices[0].Message)
	assert.True(t, notices[0].Retryable)
}

func TestOwnerConsole_AdmitFirstRefreshesImmediately(t *testing.T) {
	fake := &fakeOwnerAPI{}
	fake.queue(snapshotOf(models.QueueEntry{UserID: 2, Rank: 1}))
	console := NewOwnerConsole(fake, 5)

	require.NoError(t, console.AdmitFirst(context.Background()))

	assert.Equal(t, 1, fake.polls)
	assert.Equal(t, 1, fake.lists())
	snap, ok := console.Snapshot()
	require.True(t, ok)
	assert.Equal(t, []models.QueueEntry{{UserID: 2, Rank: 1}}, snap.UserIDs)
}

// Property 8
func TestOwnerConsole_SnapshotsReplace(t *testing.T) {
	fake := &fakeOwnerAPI{}
	fake.queue(
		snapshotOf(models.QueueEntry{UserID: 1, Rank: 1}, models.QueueEntry{UserID: 2, Rank: 2}, models.QueueEntry{UserID: 3, Rank: 3}),
		snapshotOf(models.QueueEntry{UserID: 9, Rank: 1}),
	)

	var applied []models.QueueSnapshot
	console := NewOwnerConsole(fake, 5, WithOnSnapshot(func(s models.QueueSnapshot) {
		applied = append(applied, s)
	}))

	require.NoError(t, console.Refresh(context.Background()))
	require.NoError(t, console.Refresh(context.Background()))

	snap, _ := console.Snapshot()
	assert.Equal(t, 1, snap.TotalWaitingNumber)
	assert.Equal(t, []models.QueueEntry{{UserID: 9, Rank: 1}}, snap.UserIDs)
	require.Len(t, applied, 2)
	assert.Len(t, applied[0].UserIDs, 3)
}

func TestOwnerConsole_SnapshotIsCopy(t *testing.T) {
	fake := &fakeOwnerAPI{}
	fake.queue(snapshotOf(models.QueueEntry{UserID: 1, Rank: 1}))
	console := NewOwnerConsole(fake, 5)
	require.NoError(t, console.Refresh(context.Background()))

	snap, _ := console.Snapshot()
	snap.UserIDs[0].Rank = 99

	again, _ := console.Snapshot()
	assert.Equal(t, 1, again.UserIDs[0].Rank)
}

// Scenario E
func TestOwnerConsole_ClearFromRankConfirmed(t *testing.T) {
	fake := &fakeOwnerAPI{}
	fake.queue(
		snapshotOf(models.QueueEntry{UserID: 1, Rank: 1}, models.QueueEntry{UserID: 2, Rank: 2}),
	)

	var prompt string
	console := NewOwnerConsole(fake, 5, WithConfirmer(ConfirmFunc(func(_ context.Context, p string) (bool, error) {
		prompt = p
		return true, nil
	})))

	require.NoError(t, console.ClearFromRank(context.Background(), 3))

	assert.Equal(t, []int{3}, fake.cutlines)
	assert.Contains(t, prompt, "3")
	assert.Equal(t, 1, fake.lists())

	snap, _ := console.Snapshot()
	for _, e := range snap.UserIDs {
		assert.Less(t, e.Rank, 3)
	}
}

func TestOwnerConsole_ClearFromRankDeclined(t *testing.T) {
	fake := &fakeOwnerAPI{}
	console := NewOwnerConsole(fake, 5, WithConfirmer(ConfirmFunc(func(context.Context, string) (bool, error) {
		return false, nil
	})))

	err := console.ClearFromRank(context.Background(), 3)
	assert.ErrorIs(t, err, status.ErrNotConfirmed)
	assert.Empty(t, fake.cutlines)
	assert.Zero(t, fake.lists())
}

func TestOwnerConsole_ClearWithoutConfirmerDeclines(t *testing.T) {
	fake := &fakeOwnerAPI{}
	console := NewOwnerConsole(fake, 5)

	assert.ErrorIs(t, console.ClearFromRank(context.Background(), 2), status.ErrNotConfirmed)
	assert.Empty(t, fake.cutlines)
}

func TestOwnerConsole_ClearFromRankInvalidCutline(t *testing.T) {
	fake := &fakeOwnerAPI{}
	console := NewOwnerConsole(fake, 5, WithConfirmer(accept()))

	assert.ErrorIs(t, console.ClearFromRank(context.Background(), 0), status.ErrInvalidCutline)
	assert.Empty(t, fake.cutlines)
}

func TestOwnerConsole_ClearFailureNotifies(t *testing.T) {
	fake := &fakeOwnerAPI{clearErr: errors.New("network down")}

	var got []Notice
	console := NewOwnerConsole(fake, 5,
		WithConfirmer(accept()),
		WithOnError(func(n Notice) { got = append(got, n) }),
	)

	err := console.ClearFromRank(context.Background(), 2)
	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "network down", got[0].Message)
	assert.Zero(t, fake.lists())
}

func TestOwnerConsole_PollErrorsDoNotStopLoop(t *testing.T) {
	fake := &fakeOwnerAPI{listErr: errors.New("503")}
	console := NewOwnerConsole(fake, 5, WithPollInterval(10*time.Millisecond))

	console.Start(context.Background())
	defer console.Stop()

	// keeps the fixed interval well past any failure threshold
	require.Eventually(t, func() bool { return fake.lists() >= 8 }, time.Second, 5*time.Millisecond)
	_, ok := console.Snapshot()
	assert.False(t, ok)
}

func TestOwnerConsole_BreakerPausesPolling(t *testing.T) {
	fake := &fakeOwnerAPI{listErr: errors.New("503")}
	console := NewOwnerConsole(fake, 5,
		WithPollInterval(5*time.Millisecond),
		WithPollBreaker(2, time.Hour),
	)

	console.Start(context.Background())
	defer console.Stop()

	require.Eventually(t, func() bool { return fake.lists() == 2 }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, fake.lists())

	// manual refreshes bypass the breaker
	assert.Error(t, console.Refresh(context.Background()))
	assert.Equal(t, 3, fake.lists())
}
