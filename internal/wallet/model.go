package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies one of the fund buckets a user owns. Every user has at most
// one wallet per type.
type Type string

const (
	TypeAccount  Type = "account"
	TypeTrading  Type = "trading"
	TypeReferral Type = "referral"
)

// Types lists every wallet type in a stable order.
func Types() []Type {
	return []Type{TypeAccount, TypeTrading, TypeReferral}
}

// ParseType validates a wire-level wallet type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeAccount, TypeTrading, TypeReferral:
		return Type(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWalletType, s)
	}
}

var (
	// ErrUnknownWalletType indicates a wallet type outside the closed set.
	ErrUnknownWalletType = errors.New("unknown wallet type")

	// ErrInvariantViolation indicates a mutation that would leave the locked
	// balance outside [0, balance]. It marks a programming defect, not a user
	// error, and aborts the operation that raised it.
	ErrInvariantViolation = errors.New("wallet invariant violation")

	// ErrWalletNotFound indicates the snapshot holds no wallet of the
	// requested type.
	ErrWalletNotFound = errors.New("source wallet not found")
)

// Wallet is one fund bucket owned by exactly one user. LockedBalance is the
// portion of Balance reserved for in-flight operations; it never exceeds
// Balance and never goes negative.
type Wallet struct {
	ID            string          `json:"wallet_id"`
	UserID        string          `json:"user_id"`
	Type          Type            `json:"wallet_type"`
	Balance       decimal.Decimal `json:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Available returns the funds eligible for a new transfer or lock.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

// ApplyDelta returns a copy of the wallet with balance and locked balance
// adjusted. It rejects any result where locked would exceed balance or either
// field would go negative.
func (w Wallet) ApplyDelta(balanceDelta, lockedDelta decimal.Decimal) (Wallet, error) {
	balance := w.Balance.Add(balanceDelta)
	locked := w.LockedBalance.Add(lockedDelta)

	if balance.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: balance would be %s", ErrInvariantViolation, balance)
	}
	if locked.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: locked balance would be %s", ErrInvariantViolation, locked)
	}
	if locked.GreaterThan(balance) {
		return Wallet{}, fmt.Errorf("%w: locked %s exceeds balance %s", ErrInvariantViolation, locked, balance)
	}

	out := w
	out.Balance = balance
	out.LockedBalance = locked
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

// Snapshot is the local picture of one user's wallets, keyed by type. It is
// what the balance cache stores and what the optimistic controller mutates
// and restores.
type Snapshot map[Type]Wallet

// Clone deep-copies the snapshot so a retained pre-mutation copy cannot be
// aliased by later writes.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for t, w := range s {
		out[t] = w
	}
	return out
}

// Get returns the wallet of the given type.
func (s Snapshot) Get(t Type) (Wallet, error) {
	w, ok := s[t]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

// Apply mutates one wallet through ApplyDelta, returning a new snapshot and
// leaving the receiver untouched.
func (s Snapshot) Apply(t Type, balanceDelta, lockedDelta decimal.Decimal) (Snapshot, error) {
	w, err := s.Get(t)
	if err != nil {
		return nil, err
	}
	updated, err := w.ApplyDelta(balanceDelta, lockedDelta)
	if err != nil {
		return nil, err
	}
	out := s.Clone()
	out[t] = updated
	return out, nil
}

// TransferStatus tracks the lifecycle of a transfer record.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is a movement of funds between two wallet types of the same user.
// Once the status is terminal the record is immutable.
type Transfer struct {
	ID          string          `json:"transfer_id"`
	UserID      string          `json:"user_id"`
	From        Type            `json:"from_wallet_type"`
	To          Type            `json:"to_wallet_type"`
	Amount      decimal.Decimal `json:"amount"`
	Status      TransferStatus  `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
