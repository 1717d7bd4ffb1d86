package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryAuthority struct {
	mu        sync.RWMutex
	accounts  map[string]Account        // userID + "/" + walletType
	transfers map[string][]TransferRecord // by userID, oldest first
	executed  map[string]TransferRecord   // by client transfer id
}

// NewInMemory creates a concurrency-safe in-memory authority useful for unit
// tests and dev mode.
func NewInMemory() Authority {
	return &inMemoryAuthority{
		accounts:  make(map[string]Account),
		transfers: make(map[string][]TransferRecord),
		executed:  make(map[string]TransferRecord),
	}
}

func accountKey(userID, walletType string) string {
	return userID + "/" + walletType
}

func (a *inMemoryAuthority) FetchBalances(_ context.Context, userID string) ([]Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Account
	for _, acct := range a.accounts {
		if acct.UserID == userID {
			out = append(out, acct)
		}
	}
	if len(out) == 0 {
		return nil, ErrAccountNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletType < out[j].WalletType })
	return out, nil
}

func (a *inMemoryAuthority) FetchBalance(_ context.Context, userID, walletType string) (Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.accounts[accountKey(userID, walletType)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (a *inMemoryAuthority) ExecuteTransfer(_ context.Context, req TransferRequest) (TransferRecord, error) {
	if req.Amount.Sign() <= 0 {
		return TransferRecord{}, ErrInsufficientFunds
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if req.ClientTxID != "" {
		if rec, exists := a.executed[req.ClientTxID]; exists {
			return rec, ErrDuplicateTransfer
		}
	}

	from, ok := a.accounts[accountKey(req.UserID, req.FromType)]
	if !ok {
		return TransferRecord{}, ErrAccountNotFound
	}
	to, ok := a.accounts[accountKey(req.UserID, req.ToType)]
	if !ok {
		return TransferRecord{}, ErrAccountNotFound
	}

	if from.Balance.Sub(from.Locked).LessThan(req.Amount) {
		return TransferRecord{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	from.Balance = from.Balance.Sub(req.Amount)
	from.UpdatedAt = now
	to.Balance = to.Balance.Add(req.Amount)
	to.UpdatedAt = now
	a.accounts[accountKey(req.UserID, req.FromType)] = from
	a.accounts[accountKey(req.UserID, req.ToType)] = to

	rec := TransferRecord{
		TransferID:  uuid.NewString(),
		UserID:      req.UserID,
		FromType:    req.FromType,
		ToType:      req.ToType,
		Amount:      req.Amount,
		Status:      "completed",
		CreatedAt:   now,
		CompletedAt: now,
		FromBalance: from.Balance,
		ToBalance:   to.Balance,
	}
	a.transfers[req.UserID] = append(a.transfers[req.UserID], rec)
	if req.ClientTxID != "" {
		a.executed[req.ClientTxID] = rec
	}
	return rec, nil
}

func (a *inMemoryAuthority) ValidateTransfer(_ context.Context, req TransferRequest) (RemoteValidation, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if req.Amount.Sign() <= 0 {
		return RemoteValidation{Valid: false, Reason: "amount must be positive"}, nil
	}
	from, ok := a.accounts[accountKey(req.UserID, req.FromType)]
	if !ok {
		return RemoteValidation{Valid: false, Reason: "source wallet not found"}, nil
	}
	if from.Balance.Sub(from.Locked).LessThan(req.Amount) {
		return RemoteValidation{Valid: false, Reason: "insufficient funds"}, nil
	}
	return RemoteValidation{Valid: true}, nil
}

func (a *inMemoryAuthority) TransferHistory(_ context.Context, userID string) ([]TransferRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	history := a.transfers[userID]
	out := make([]TransferRecord, len(history))
	copy(out, history)
	return out, nil
}

func (a *inMemoryAuthority) LockBalance(_ context.Context, userID, walletType string, amount decimal.Decimal) (Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acct, ok := a.accounts[accountKey(userID, walletType)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if acct.Balance.Sub(acct.Locked).LessThan(amount) {
		return Account{}, ErrInsufficientFunds
	}
	acct.Locked = acct.Locked.Add(amount)
	acct.UpdatedAt = time.Now().UTC()
	a.accounts[accountKey(userID, walletType)] = acct
	return acct, nil
}

func (a *inMemoryAuthority) UnlockBalance(_ context.Context, userID, walletType string, amount decimal.Decimal) (Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acct, ok := a.accounts[accountKey(userID, walletType)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if acct.Locked.LessThan(amount) {
		return Account{}, ErrLockExceeded
	}
	acct.Locked = acct.Locked.Sub(amount)
	acct.UpdatedAt = time.Now().UTC()
	a.accounts[accountKey(userID, walletType)] = acct
	return acct, nil
}
