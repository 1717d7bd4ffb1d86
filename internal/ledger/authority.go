package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound occurs when a user has no wallet of the requested type.
	ErrAccountNotFound = errors.New("wallet account not found")

	// ErrInsufficientFunds occurs when the source wallet's available balance
	// cannot cover the requested movement.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLockExceeded occurs when a release is requested for more than the
	// currently locked amount.
	ErrLockExceeded = errors.New("unlock exceeds locked balance")

	// ErrDuplicateTransfer indicates the client transfer identifier was
	// already executed; the stored outcome is returned alongside it.
	ErrDuplicateTransfer = errors.New("duplicate transfer")
)

// Account is the authority's view of one wallet. Wallet types cross this
// boundary as plain strings; the exact wire vocabulary is the remote side's
// concern.
type Account struct {
	WalletID   string
	UserID     string
	WalletType string
	Balance    decimal.Decimal
	Locked     decimal.Decimal
	UpdatedAt  time.Time
}

// TransferRequest describes a movement of funds between two wallet types of
// one user. ClientTxID makes ExecuteTransfer idempotent on replay.
type TransferRequest struct {
	UserID     string
	FromType   string
	ToType     string
	Amount     decimal.Decimal
	ClientTxID string
}

// TransferRecord is the authority's committed record of a transfer, including
// the authoritative post-transfer balances of both sides.
type TransferRecord struct {
	TransferID  string
	UserID      string
	FromType    string
	ToType      string
	Amount      decimal.Decimal
	Status      string
	CreatedAt   time.Time
	CompletedAt time.Time
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
}

// RemoteValidation is the authority's own verdict on a proposed transfer,
// used by the optional pre-check path.
type RemoteValidation struct {
	Valid  bool
	Reason string
}

// Authority is the remote balance authority: the server-side ledger the local
// cache and controller reconcile against. Reads are idempotent and writes are
// atomic from the caller's perspective; the authority is the final arbiter
// and may reject a transfer that passed local validation.
type Authority interface {
	FetchBalances(ctx context.Context, userID string) ([]Account, error)
	FetchBalance(ctx context.Context, userID, walletType string) (Account, error)
	ExecuteTransfer(ctx context.Context, req TransferRequest) (TransferRecord, error)
	ValidateTransfer(ctx context.Context, req TransferRequest) (RemoteValidation, error)
	TransferHistory(ctx context.Context, userID string) ([]TransferRecord, error)
	LockBalance(ctx context.Context, userID, walletType string, amount decimal.Decimal) (Account, error)
	UnlockBalance(ctx context.Context, userID, walletType string, amount decimal.Decimal) (Account, error)
}
