package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crestfund/crestfund/internal/cache"
	"github.com/crestfund/crestfund/internal/ledger"
	"github.com/crestfund/crestfund/internal/notification"
)

var (
	// ErrTransferRejected indicates local validation failed; the returned
	// ValidationResult carries the reasons and nothing was mutated.
	ErrTransferRejected = errors.New("transfer rejected")

	// ErrInsufficientBalance indicates the affected wallet's available
	// balance cannot cover a requested lock.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientLocked indicates an unlock for more than is locked.
	ErrInsufficientLocked = errors.New("insufficient locked balance")
)

// Service fronts the remote balance authority with a TTL cache and drives
// transfers optimistically: the local snapshot reflects in-flight funds
// before the remote call resolves and is restored exactly on failure.
//
// Mutations to one user's snapshot are serialized by a per-user mutex. The
// mutex is held across validate + optimistic apply and across commit or
// rollback, but never across the remote call, so a concurrent transfer is
// validated against the in-flight picture instead of blocking on it.
type Service struct {
	authority  ledger.Authority
	store      *cache.Store
	notifier   notification.Notifier
	policy     Policy
	logger     *slog.Logger
	balanceTTL time.Duration
	historyTTL time.Duration

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewService builds a wallet service instance. Each instance owns its cache
// state, so tests can run independent instances side by side.
func NewService(authority ledger.Authority, store *cache.Store, notifier notification.Notifier, policy Policy, balanceTTL, historyTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		authority:  authority,
		store:      store,
		notifier:   notifier,
		policy:     policy,
		logger:     logger,
		balanceTTL: balanceTTL,
		historyTTL: historyTTL,
		users:      make(map[string]*sync.Mutex),
	}
}

func (s *Service) userMutex(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.users[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.users[userID] = mu
	}
	return mu
}

func balancesKey(userID string) cache.Key {
	return cache.Key{Category: cache.CategoryBalances, Op: "balances", Param: userID}
}

func balanceKey(userID string, t Type) cache.Key {
	return cache.Key{Category: cache.CategoryBalances, Op: "balance", Param: userID + "/" + string(t)}
}

func historyKey(userID string) cache.Key {
	return cache.Key{Category: cache.CategoryHistory, Op: "transfers", Param: userID}
}

func walletFromAccount(acct ledger.Account) Wallet {
	return Wallet{
		ID:            acct.WalletID,
		UserID:        acct.UserID,
		Type:          Type(acct.WalletType),
		Balance:       acct.Balance,
		LockedBalance: acct.Locked,
		UpdatedAt:     acct.UpdatedAt,
	}
}

func snapshotFromAccounts(accounts []ledger.Account) Snapshot {
	snap := make(Snapshot, len(accounts))
	for _, acct := range accounts {
		w := walletFromAccount(acct)
		snap[w.Type] = w
	}
	return snap
}

func transferFromRecord(rec ledger.TransferRecord) Transfer {
	t := Transfer{
		ID:        rec.TransferID,
		UserID:    rec.UserID,
		From:      Type(rec.FromType),
		To:        Type(rec.ToType),
		Amount:    rec.Amount,
		Status:    TransferStatus(rec.Status),
		CreatedAt: rec.CreatedAt,
	}
	if !rec.CompletedAt.IsZero() {
		completed := rec.CompletedAt
		t.CompletedAt = &completed
	}
	return t
}

// snapshotLocked returns the user's wallet snapshot, from cache when fresh,
// otherwise from the authority. Callers must hold the user mutex.
func (s *Service) snapshotLocked(ctx context.Context, userID string) (Snapshot, error) {
	if snap, ok := cache.GetAs[Snapshot](s.store, balancesKey(userID)); ok {
		return snap, nil
	}
	accounts, err := s.authority.FetchBalances(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	snap := snapshotFromAccounts(accounts)
	s.store.Set(balancesKey(userID), snap, s.balanceTTL)
	return snap, nil
}

// Balances returns every wallet of the user, bounded-stale.
func (s *Service) Balances(ctx context.Context, userID string) (Snapshot, error) {
	mu := s.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()
	snap, err := s.snapshotLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.Clone(), nil
}

// Balance returns one wallet of the user. It prefers the aggregate snapshot
// and falls back to a single-balance fetch cached under its own key.
func (s *Service) Balance(ctx context.Context, userID string, t Type) (Wallet, error) {
	mu := s.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	if snap, ok := cache.GetAs[Snapshot](s.store, balancesKey(userID)); ok {
		return snap.Get(t)
	}
	if w, ok := cache.GetAs[Wallet](s.store, balanceKey(userID, t)); ok {
		return w, nil
	}
	acct, err := s.authority.FetchBalance(ctx, userID, string(t))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("fetch balance: %w", err)
	}
	w := walletFromAccount(acct)
	s.store.Set(balanceKey(userID, t), w, s.balanceTTL)
	return w, nil
}

// History returns the user's transfer records, bounded-stale.
func (s *Service) History(ctx context.Context, userID string) ([]Transfer, error) {
	if transfers, ok := cache.GetAs[[]Transfer](s.store, historyKey(userID)); ok {
		return transfers, nil
	}
	records, err := s.authority.TransferHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch transfer history: %w", err)
	}
	transfers := make([]Transfer, 0, len(records))
	for _, rec := range records {
		transfers = append(transfers, transferFromRecord(rec))
	}
	s.store.Set(historyKey(userID), transfers, s.historyTTL)
	return transfers, nil
}

// Validate runs the transfer validator against the current snapshot without
// mutating anything. It serves live pre-submission feedback and is the same
// check Transfer runs before applying its optimistic mutation.
func (s *Service) Validate(ctx context.Context, userID string, req TransferRequest) (ValidationResult, error) {
	mu := s.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()
	snap, err := s.snapshotLocked(ctx, userID)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidateTransfer(req, snap, s.policy), nil
}

// Transfer moves funds between two wallet types of one user.
//
// The sequence is validate, apply the optimistic reservation to the cached
// snapshot, call the authority, then commit (invalidate balance and history
// reads, emit transfer_completed) or roll back (restore the retained
// snapshot exactly, emit transfer_failed). The rollback runs through a
// deferred compensator keyed on a committed flag, so no return path can
// leave the reservation applied after the remote call resolved.
func (s *Service) Transfer(ctx context.Context, userID string, req TransferRequest) (Transfer, ValidationResult, error) {
	mu := s.userMutex(userID)
	mu.Lock()

	snap, err := s.snapshotLocked(ctx, userID)
	if err != nil {
		mu.Unlock()
		return Transfer{}, ValidationResult{}, err
	}

	res := ValidateTransfer(req, snap, s.policy)
	if !res.Valid {
		mu.Unlock()
		return Transfer{}, res, ErrTransferRejected
	}

	// Reserve the amount in flight: availability drops by exactly the
	// transfer amount while the total balance stays put until the authority
	// commits.
	prior := snap.Clone()
	applied, err := snap.Apply(req.From, decimal.Zero, req.Amount)
	if err != nil {
		mu.Unlock()
		return Transfer{}, res, err
	}
	s.store.Set(balancesKey(userID), applied, s.balanceTTL)
	s.store.Set(balanceKey(userID, req.From), applied[req.From], s.balanceTTL)
	mu.Unlock()

	transfer := Transfer{
		ID:        uuid.NewString(),
		UserID:    userID,
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount,
		Status:    TransferPending,
		CreatedAt: time.Now().UTC(),
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		mu.Lock()
		s.store.Set(balancesKey(userID), prior, s.balanceTTL)
		if w, ok := prior[req.From]; ok {
			s.store.Set(balanceKey(userID, req.From), w, s.balanceTTL)
		}
		mu.Unlock()
	}()

	rec, err := s.authority.ExecuteTransfer(ctx, ledger.TransferRequest{
		UserID:     userID,
		FromType:   string(req.From),
		ToType:     string(req.To),
		Amount:     req.Amount,
		ClientTxID: transfer.ID,
	})
	if err != nil {
		transfer.Status = TransferFailed
		s.logger.Warn("transfer rolled back",
			"user_id", userID, "from", req.From, "to", req.To,
			"amount", req.Amount.String(), "error", err)
		s.notify(ctx, notification.Message{
			Kind:        notification.KindTransferFailed,
			Destination: userID,
			Body:        fmt.Sprintf("Transfer of %s from %s to %s failed: %v", req.Amount, req.From, req.To, err),
		})
		return transfer, res, fmt.Errorf("execute transfer: %w", err)
	}

	mu.Lock()
	s.store.InvalidateCategory(cache.CategoryBalances)
	s.store.InvalidateCategory(cache.CategoryHistory)
	committed = true
	mu.Unlock()

	completedAt := rec.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	transfer.Status = TransferCompleted
	transfer.CompletedAt = &completedAt

	s.logger.Info("transfer committed",
		"transfer_id", transfer.ID, "user_id", userID,
		"from", req.From, "to", req.To, "amount", req.Amount.String())
	s.notify(ctx, notification.Message{
		Kind:        notification.KindTransferCompleted,
		Destination: userID,
		Body:        fmt.Sprintf("Transferred %s from %s to %s", req.Amount, req.From, req.To),
	})
	return transfer, res, nil
}

// Lock reserves amount on the wallet: available drops, total is unchanged.
// Cached balance reads are invalidated on success only.
func (s *Service) Lock(ctx context.Context, userID string, t Type, amount decimal.Decimal) (Wallet, error) {
	if amount.Sign() <= 0 {
		return Wallet{}, fmt.Errorf("%w: amount must be positive", ErrInsufficientBalance)
	}

	mu := s.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := s.snapshotLocked(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	w, err := snap.Get(t)
	if err != nil {
		return Wallet{}, err
	}
	if w.Available().LessThan(amount) {
		return Wallet{}, ErrInsufficientBalance
	}

	acct, err := s.authority.LockBalance(ctx, userID, string(t), amount)
	if err != nil {
		return Wallet{}, fmt.Errorf("lock balance: %w", err)
	}

	s.store.InvalidateCategory(cache.CategoryBalances)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindFundsLocked,
		Destination: userID,
		Body:        fmt.Sprintf("Locked %s on %s wallet", amount, t),
	})
	return walletFromAccount(acct), nil
}

// Unlock releases a prior reservation. Cached balance reads are invalidated
// on success only.
func (s *Service) Unlock(ctx context.Context, userID string, t Type, amount decimal.Decimal) (Wallet, error) {
	if amount.Sign() <= 0 {
		return Wallet{}, fmt.Errorf("%w: amount must be positive", ErrInsufficientLocked)
	}

	mu := s.userMutex(userID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := s.snapshotLocked(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	w, err := snap.Get(t)
	if err != nil {
		return Wallet{}, err
	}
	if w.LockedBalance.LessThan(amount) {
		return Wallet{}, ErrInsufficientLocked
	}

	acct, err := s.authority.UnlockBalance(ctx, userID, string(t), amount)
	if err != nil {
		return Wallet{}, fmt.Errorf("unlock balance: %w", err)
	}

	s.store.InvalidateCategory(cache.CategoryBalances)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindFundsReleased,
		Destination: userID,
		Body:        fmt.Sprintf("Released %s on %s wallet", amount, t),
	})
	return walletFromAccount(acct), nil
}

// ValidateRemote asks the authority for its own verdict on the request, the
// optional pre-check ahead of local validation.
func (s *Service) ValidateRemote(ctx context.Context, userID string, req TransferRequest) (ledger.RemoteValidation, error) {
	return s.authority.ValidateTransfer(ctx, ledger.TransferRequest{
		UserID:   userID,
		FromType: string(req.From),
		ToType:   string(req.To),
		Amount:   req.Amount,
	})
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", "kind", msg.Kind, "error", err)
	}
}
