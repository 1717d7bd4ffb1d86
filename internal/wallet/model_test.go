package wallet

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAvailableNeverNegative(t *testing.T) {
	w := Wallet{Balance: d(100), LockedBalance: d(40)}
	assert.True(t, w.Available().Equal(d(60)))

	w = Wallet{Balance: d(100), LockedBalance: d(100)}
	assert.True(t, w.Available().IsZero())
}

func TestApplyDeltaKeepsInvariant(t *testing.T) {
	w := Wallet{Balance: d(100), LockedBalance: d(20)}

	updated, err := w.ApplyDelta(d(-30), d(10))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(d(70)))
	assert.True(t, updated.LockedBalance.Equal(d(30)))

	// Original wallet is untouched.
	assert.True(t, w.Balance.Equal(d(100)))
}

func TestApplyDeltaRejectsViolations(t *testing.T) {
	w := Wallet{Balance: d(100), LockedBalance: d(20)}

	cases := []struct {
		name         string
		balanceDelta decimal.Decimal
		lockedDelta  decimal.Decimal
	}{
		{"negative balance", d(-150), d(0)},
		{"negative locked", d(0), d(-30)},
		{"locked exceeds balance", d(0), d(90)},
		{"balance drops below locked", d(-90), d(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := w.ApplyDelta(tc.balanceDelta, tc.lockedDelta)
			assert.ErrorIs(t, err, ErrInvariantViolation)
		})
	}
}

func TestParseType(t *testing.T) {
	for _, typ := range Types() {
		parsed, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseType("savings")
	assert.ErrorIs(t, err, ErrUnknownWalletType)
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	snap := Snapshot{TypeTrading: {Type: TypeTrading, Balance: d(1000), LockedBalance: d(50)}}
	clone := snap.Clone()

	applied, err := snap.Apply(TypeTrading, d(0), d(200))
	require.NoError(t, err)
	assert.True(t, applied[TypeTrading].LockedBalance.Equal(d(250)))
	assert.True(t, clone[TypeTrading].LockedBalance.Equal(d(50)))
	assert.True(t, snap[TypeTrading].LockedBalance.Equal(d(50)))
}

func TestSnapshotApplyUnknownWallet(t *testing.T) {
	snap := Snapshot{}
	_, err := snap.Apply(TypeReferral, d(0), d(10))
	assert.ErrorIs(t, err, ErrWalletNotFound)
}
