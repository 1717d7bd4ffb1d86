package wallet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TransferRequest is a proposed movement of funds between two wallet types of
// the same user.
type TransferRequest struct {
	From   Type
	To     Type
	Amount decimal.Decimal
}

// Policy carries the transfer limits and the fee hook. Internal transfers
// between a user's own wallets carry zero fee; an external-transfer path
// would supply a nonzero Fee without touching the validator itself.
type Policy struct {
	MinTransferAmount      decimal.Decimal
	LargeTransferThreshold decimal.Decimal

	// Fee computes the fee for a request. A nil hook means no fee.
	Fee func(req TransferRequest) decimal.Decimal
}

func (p Policy) fee(req TransferRequest) decimal.Decimal {
	if p.Fee == nil {
		return decimal.Zero
	}
	return p.Fee(req)
}

// ValidationResult is the validator's verdict on a proposed transfer.
// Warnings are advisory and never make the result invalid.
type ValidationResult struct {
	Valid            bool            `json:"valid"`
	Errors           []string        `json:"errors"`
	Warnings         []string        `json:"warnings"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	Fee              decimal.Decimal `json:"fee"`
	NetAmount        decimal.Decimal `json:"net_amount"`
}

// ValidateTransfer checks a proposed transfer against the snapshot and
// policy without mutating anything. It is callable standalone and is run by
// the transfer controller before any optimistic mutation.
func ValidateTransfer(req TransferRequest, snap Snapshot, policy Policy) ValidationResult {
	res := ValidationResult{
		Fee:       policy.fee(req),
		NetAmount: req.Amount,
	}

	if req.From == req.To {
		res.Errors = append(res.Errors, "source and destination wallets must differ")
	}
	if req.Amount.Sign() <= 0 {
		res.Errors = append(res.Errors, "amount must be positive")
	}

	source, err := snap.Get(req.From)
	if err != nil {
		res.Errors = append(res.Errors, ErrWalletNotFound.Error())
		return res
	}
	res.AvailableBalance = source.Available()

	if req.Amount.Sign() > 0 && req.Amount.LessThan(policy.MinTransferAmount) {
		res.Errors = append(res.Errors, fmt.Sprintf("amount is below the minimum of %s", policy.MinTransferAmount))
	}
	if res.AvailableBalance.LessThan(req.Amount) {
		res.Errors = append(res.Errors, "insufficient balance")
	}

	if policy.LargeTransferThreshold.Sign() > 0 && req.Amount.GreaterThan(policy.LargeTransferThreshold) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("amount exceeds the large transfer threshold of %s", policy.LargeTransferThreshold))
	}

	res.Valid = len(res.Errors) == 0
	return res
}
