package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedAccount is a test helper that installs a wallet account when using the
// in-memory authority.
func SeedAccount(a Authority, userID, walletType string, balance, locked decimal.Decimal) {
	mem, ok := a.(*inMemoryAuthority)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.accounts[accountKey(userID, walletType)] = Account{
		WalletID:   uuid.NewString(),
		UserID:     userID,
		WalletType: walletType,
		Balance:    balance,
		Locked:     locked,
		UpdatedAt:  time.Now().UTC(),
	}
}
