// internal/lobby/registry_test.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/stakeroyale/internal/botledger"
	"github.com/jason-s-yu/stakeroyale/internal/config"
	"github.com/jason-s-yu/stakeroyale/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFunds struct {
	broke map[string]bool
}

func (f fakeFunds) HasFunds(_ context.Context, wallet string, _ decimal.Decimal) (bool, error) {
	return !f.broke[wallet], nil
}

// testRegistry keeps every timer long so lobbies only move when a test drives them.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.FillTimeout = time.Hour
	cfg.BotFillDelay = 30 * time.Minute
	cfg.AutoStartFull = time.Hour
	cfg.AutoStartPartial = time.Hour
	r := NewRegistry(cfg, botledger.New(dec("0"), dec("0")), newMockBroadcaster(), testLogger())
	t.Cleanup(r.Close)
	return r
}

func TestFindOrCreateValidates(t *testing.T) {
	r := testRegistry(t)

	_, err := r.FindOrCreate(context.Background(), "chess", dec("0.1"))
	assert.ErrorIs(t, err, ErrUnknownGameType)

	_, err = r.FindOrCreate(context.Background(), "coin_race", dec("0.07"))
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestFindOrCreatePrefersFullestThenOldest(t *testing.T) {
	r := testRegistry(t)
	gt := r.cfg.GameTypes["flappy_royale"]
	tier := dec("0.1")

	r.mu.Lock()
	older := r.createUnsafe(gt, tier)
	time.Sleep(time.Millisecond)
	newer := r.createUnsafe(gt, tier)
	r.mu.Unlock()

	l, err := r.FindOrCreate(context.Background(), "flappy_royale", tier)
	require.NoError(t, err)
	assert.Equal(t, older.ID, l.ID, "oldest wins on a tie")

	_, err = r.Join(context.Background(), newer.ID, realPlayer("a"))
	require.NoError(t, err)
	l, err = r.FindOrCreate(context.Background(), "flappy_royale", tier)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, l.ID, "fullest lobby wins")

	// other tiers never mix
	l, err = r.FindOrCreate(context.Background(), "flappy_royale", dec("0.5"))
	require.NoError(t, err)
	assert.NotEqual(t, older.ID, l.ID)
	assert.NotEqual(t, newer.ID, l.ID)
	assert.Len(t, r.List(), 3)
}

func TestWalletSeatedOnce(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	p := realPlayer("alice")

	res, err := r.FindAndJoin(ctx, "flappy_royale", dec("0.1"), p)
	require.NoError(t, err)
	first := res.Snapshot.ID

	twin := p
	twin.ID = uuid.New()
	_, err = r.FindAndJoin(ctx, "coin_race", dec("0.1"), twin)
	assert.ErrorIs(t, err, ErrDuplicateWallet)

	_, err = r.Join(ctx, first, p)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	// leaving frees the wallet
	_, err = r.Leave(ctx, first, p.ID)
	require.NoError(t, err)
	_, err = r.FindAndJoin(ctx, "coin_race", dec("0.1"), twin)
	require.NoError(t, err)
}

func TestJoinRejectsMismatchedTier(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	l, err := r.FindOrCreate(ctx, "flappy_royale", dec("0.1"))
	require.NoError(t, err)

	p := realPlayer("alice")
	p.Stake = dec("0.5")
	_, err = r.Join(ctx, l.ID, p)
	assert.ErrorIs(t, err, ErrInvalidTier)
	assert.Equal(t, 0, l.Snapshot().Total())

	// the wallet was never reserved
	p.Stake = dec("0.10")
	res, err := r.Join(ctx, l.ID, p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Snapshot.Total())
}

func TestCancelledLobbyReleasesSeats(t *testing.T) {
	r := testRegistry(t)
	r.cfg.FillTimeout = 20 * time.Millisecond
	ctx := context.Background()
	p := realPlayer("alice")

	res, err := r.FindAndJoin(ctx, "flappy_royale", dec("0.5"), p)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := r.Get(res.Snapshot.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	r.cfg.FillTimeout = time.Hour
	_, err = r.FindAndJoin(ctx, "flappy_royale", dec("0.5"), p)
	assert.NoError(t, err)
}

func TestFundsCheckedBeforeSeating(t *testing.T) {
	r := testRegistry(t)
	r.Funds = fakeFunds{broke: map[string]bool{"wallet-bob": true}}
	ctx := context.Background()

	_, err := r.FindAndJoin(ctx, "flappy_royale", dec("0.1"), realPlayer("bob"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	for _, snap := range r.List() {
		assert.Equal(t, 0, snap.Total())
	}

	_, err = r.FindAndJoin(ctx, "flappy_royale", dec("0.1"), realPlayer("carol"))
	assert.NoError(t, err)
}

func TestConcurrentJoinsNeverExceedMax(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	const players = 60

	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.FindAndJoin(ctx, "coin_race", dec("0.25"), realPlayer(fmt.Sprintf("p%d", i)))
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, failures)

	seated := make(map[uuid.UUID]bool)
	for _, snap := range r.List() {
		assert.LessOrEqual(t, snap.Total(), snap.MaxPlayers)
		for _, p := range snap.Participants {
			assert.False(t, seated[p.ID], "participant seated twice")
			seated[p.ID] = true
		}
	}
	assert.Len(t, seated, players)
}

func TestRegistryHandOffAndComplete(t *testing.T) {
	r := testRegistry(t)
	r.cfg.AutoStartFull = 10 * time.Millisecond
	ctx := context.Background()

	started := make(chan models.LobbySnapshot, 1)
	r.OnHandOff = func(snap models.LobbySnapshot) (uuid.UUID, error) {
		started <- snap
		return uuid.New(), nil
	}

	gt := r.cfg.GameTypes["coin_race"]
	var lobbyID uuid.UUID
	for i := 0; i < gt.MaxPlayers; i++ {
		res, err := r.FindAndJoin(ctx, "coin_race", dec("1"), realPlayer(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		lobbyID = res.Snapshot.ID
	}
	snap := <-started
	assert.Equal(t, lobbyID, snap.ID)
	assert.Equal(t, gt.MaxPlayers, snap.Total())

	require.NoError(t, r.Complete(lobbyID))
	require.Eventually(t, func() bool {
		_, ok := r.Get(lobbyID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.True(t, errors.Is(r.Complete(lobbyID), ErrLobbyNotFound))
}
