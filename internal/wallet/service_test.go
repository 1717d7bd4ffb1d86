package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestfund/crestfund/internal/cache"
	"github.com/crestfund/crestfund/internal/ledger"
	"github.com/crestfund/crestfund/internal/logging"
	"github.com/crestfund/crestfund/internal/notification"
)

type captureNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *captureNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		out = append(out, m.Kind)
	}
	return out
}

// stubAuthority wraps the in-memory authority, counting reads and allowing
// the transfer execution path to be replaced.
type stubAuthority struct {
	ledger.Authority

	mu            sync.Mutex
	balanceReads  int
	historyReads  int
	executeCalls  int
	execute       func(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error)
}

func (s *stubAuthority) FetchBalances(ctx context.Context, userID string) ([]ledger.Account, error) {
	s.mu.Lock()
	s.balanceReads++
	s.mu.Unlock()
	return s.Authority.FetchBalances(ctx, userID)
}

func (s *stubAuthority) TransferHistory(ctx context.Context, userID string) ([]ledger.TransferRecord, error) {
	s.mu.Lock()
	s.historyReads++
	s.mu.Unlock()
	return s.Authority.TransferHistory(ctx, userID)
}

func (s *stubAuthority) ExecuteTransfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error) {
	s.mu.Lock()
	s.executeCalls++
	fn := s.execute
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return s.Authority.ExecuteTransfer(ctx, req)
}

func (s *stubAuthority) reads() (balances, history, executes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceReads, s.historyReads, s.executeCalls
}

func newTestService(t *testing.T) (*Service, *stubAuthority, *captureNotifier, string) {
	t.Helper()
	mem := ledger.NewInMemory()
	stub := &stubAuthority{Authority: mem}
	notifier := &captureNotifier{}
	svc := NewService(stub, cache.New(), notifier, testPolicy(), 30*time.Second, 60*time.Second, logging.Discard())
	userID := uuid.NewString()
	return svc, stub, notifier, userID
}

func seed(a *stubAuthority, userID string, t Type, balance, locked int64) {
	ledger.SeedAccount(a.Authority, userID, string(t), d(balance), d(locked))
}

func TestBalancesServedFromCache(t *testing.T) {
	svc, stub, _, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 500, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap, err := svc.Balances(ctx, userID)
		require.NoError(t, err)
		assert.True(t, snap[TypeAccount].Balance.Equal(d(500)))
	}

	balances, _, _ := stub.reads()
	assert.Equal(t, 1, balances)
}

func TestTransferCommit(t *testing.T) {
	svc, stub, notifier, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 500, 0)
	seed(stub, userID, TypeTrading, 200, 0)
	ctx := context.Background()

	// Warm the cache so the commit path has entries to invalidate.
	_, err := svc.Balances(ctx, userID)
	require.NoError(t, err)

	transfer, res, err := svc.Transfer(ctx, userID, TransferRequest{From: TypeAccount, To: TypeTrading, Amount: d(100)})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, TransferCompleted, transfer.Status)
	require.NotNil(t, transfer.CompletedAt)

	snap, err := svc.Balances(ctx, userID)
	require.NoError(t, err)
	assert.True(t, snap[TypeAccount].Balance.Equal(d(400)))
	assert.True(t, snap[TypeTrading].Balance.Equal(d(300)))
	assert.True(t, snap[TypeAccount].LockedBalance.IsZero())

	// Conservation: total funds across both wallets are unchanged.
	total := snap[TypeAccount].Balance.Add(snap[TypeTrading].Balance)
	assert.True(t, total.Equal(d(700)))

	// Commit evicted the warmed snapshot, so the read above went remote.
	balances, _, _ := stub.reads()
	assert.Equal(t, 2, balances)

	assert.Equal(t, []string{notification.KindTransferCompleted}, notifier.kinds())
}

func TestTransferRemoteFailureRollsBack(t *testing.T) {
	svc, stub, notifier, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 500, 0)
	seed(stub, userID, TypeTrading, 200, 0)
	ctx := context.Background()

	before, err := svc.Balances(ctx, userID)
	require.NoError(t, err)

	remoteErr := errors.New("ledger unavailable")
	stub.execute = func(context.Context, ledger.TransferRequest) (ledger.TransferRecord, error) {
		return ledger.TransferRecord{}, remoteErr
	}

	transfer, res, err := svc.Transfer(ctx, userID, TransferRequest{From: TypeAccount, To: TypeTrading, Amount: d(100)})
	require.ErrorIs(t, err, remoteErr)
	assert.True(t, res.Valid)
	assert.Equal(t, TransferFailed, transfer.Status)

	after, err := svc.Balances(ctx, userID)
	require.NoError(t, err)
	for _, typ := range []Type{TypeAccount, TypeTrading} {
		assert.True(t, after[typ].Balance.Equal(before[typ].Balance), "balance of %s changed", typ)
		assert.True(t, after[typ].LockedBalance.Equal(before[typ].LockedBalance), "locked balance of %s changed", typ)
	}

	// The rollback restored the cached snapshot instead of invalidating it,
	// so the post-failure read never went remote.
	balances, _, _ := stub.reads()
	assert.Equal(t, 1, balances)

	assert.Equal(t, []string{notification.KindTransferFailed}, notifier.kinds())
}

func TestTransferRejectedLocally(t *testing.T) {
	svc, stub, notifier, userID := newTestService(t)
	seed(stub, userID, TypeTrading, 1000, 50)
	seed(stub, userID, TypeAccount, 0, 0)
	ctx := context.Background()

	_, res, err := svc.Transfer(ctx, userID, TransferRequest{From: TypeTrading, To: TypeAccount, Amount: d(960)})
	require.ErrorIs(t, err, ErrTransferRejected)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "insufficient balance")
	assert.True(t, res.AvailableBalance.Equal(d(950)))

	_, _, executes := stub.reads()
	assert.Zero(t, executes)
	assert.Empty(t, notifier.kinds())
}

func TestConcurrentTransferRejectedAgainstInFlightReservation(t *testing.T) {
	svc, stub, _, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 100, 0)
	seed(stub, userID, TypeTrading, 0, 0)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	stub.execute = func(ctx context.Context, req ledger.TransferRequest) (ledger.TransferRecord, error) {
		close(entered)
		<-release
		return stub.Authority.ExecuteTransfer(ctx, req)
	}

	type outcome struct {
		transfer Transfer
		err      error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		tr, _, err := svc.Transfer(ctx, userID, TransferRequest{From: TypeAccount, To: TypeTrading, Amount: d(80)})
		firstDone <- outcome{transfer: tr, err: err}
	}()

	<-entered

	// While the first transfer awaits its remote result, its reservation is
	// visible: availability is down to 20 and a second 80 is rejected.
	_, res, err := svc.Transfer(ctx, userID, TransferRequest{From: TypeAccount, To: TypeTrading, Amount: d(80)})
	require.ErrorIs(t, err, ErrTransferRejected)
	assert.Contains(t, res.Errors, "insufficient balance")
	assert.True(t, res.AvailableBalance.Equal(d(20)))

	close(release)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, TransferCompleted, first.transfer.Status)
}

func TestLockThenOverUnlock(t *testing.T) {
	svc, stub, notifier, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 100, 0)
	ctx := context.Background()

	w, err := svc.Lock(ctx, userID, TypeAccount, d(50))
	require.NoError(t, err)
	assert.True(t, w.LockedBalance.Equal(d(50)))
	assert.True(t, w.Balance.Equal(d(100)))

	_, err = svc.Unlock(ctx, userID, TypeAccount, d(70))
	require.ErrorIs(t, err, ErrInsufficientLocked)

	w, err = svc.Balance(ctx, userID, TypeAccount)
	require.NoError(t, err)
	assert.True(t, w.LockedBalance.Equal(d(50)))

	assert.Equal(t, []string{notification.KindFundsLocked}, notifier.kinds())
}

func TestLockInsufficientAvailable(t *testing.T) {
	svc, stub, _, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 100, 80)
	ctx := context.Background()

	_, err := svc.Lock(ctx, userID, TypeAccount, d(30))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestUnlockReleasesFunds(t *testing.T) {
	svc, stub, notifier, userID := newTestService(t)
	seed(stub, userID, TypeTrading, 200, 120)
	ctx := context.Background()

	w, err := svc.Unlock(ctx, userID, TypeTrading, d(120))
	require.NoError(t, err)
	assert.True(t, w.LockedBalance.IsZero())
	assert.True(t, w.Available().Equal(d(200)))

	assert.Equal(t, []string{notification.KindFundsReleased}, notifier.kinds())
}

func TestHistoryCachedAndInvalidatedByCommit(t *testing.T) {
	svc, stub, _, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 500, 0)
	seed(stub, userID, TypeTrading, 0, 0)
	ctx := context.Background()

	_, err := svc.History(ctx, userID)
	require.NoError(t, err)
	_, err = svc.History(ctx, userID)
	require.NoError(t, err)

	_, history, _ := stub.reads()
	assert.Equal(t, 1, history)

	_, _, err = svc.Transfer(ctx, userID, TransferRequest{From: TypeAccount, To: TypeTrading, Amount: d(100)})
	require.NoError(t, err)

	transfers, err := svc.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, TransferCompleted, transfers[0].Status)
	assert.True(t, transfers[0].Amount.Equal(d(100)))

	_, history, _ = stub.reads()
	assert.Equal(t, 2, history)
}

func TestValidateStandalone(t *testing.T) {
	svc, stub, _, userID := newTestService(t)
	seed(stub, userID, TypeTrading, 1000, 50)
	seed(stub, userID, TypeAccount, 0, 0)
	ctx := context.Background()

	res, err := svc.Validate(ctx, userID, TransferRequest{From: TypeTrading, To: TypeAccount, Amount: d(200)})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.AvailableBalance.Equal(d(950)))

	// Standalone validation mutates nothing.
	snap, err := svc.Balances(ctx, userID)
	require.NoError(t, err)
	assert.True(t, snap[TypeTrading].LockedBalance.Equal(d(50)))
}
