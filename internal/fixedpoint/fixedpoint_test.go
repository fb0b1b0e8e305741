package fixedpoint_test

import (
	"TrancheLedger/internal/fixedpoint"
	"math/big"
	"math/rand"
	"testing"
)

func TestBackingRatio_ZeroSupply(t *testing.T) {
	_, err := fixedpoint.BackingRatio(big.NewInt(100), big.NewInt(0))
	if err != fixedpoint.ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestBackingRatio_Exact(t *testing.T) {
	// 110 value against 100 supply = 1.10 in fixed point
	value := new(big.Int).Mul(big.NewInt(110), fixedpoint.Precision)
	supply := new(big.Int).Mul(big.NewInt(100), fixedpoint.Precision)

	ratio, err := fixedpoint.BackingRatio(value, supply)
	if err != nil {
		t.Fatalf("BackingRatio: %v", err)
	}

	want := fixedpoint.MustBig("1100000000000000000")
	if ratio.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", ratio, want)
	}
}

func TestMulDiv_TruncatesTowardZero(t *testing.T) {
	// 7 × 3 / 2 = 10.5 → 10
	out, err := fixedpoint.MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if out.Int64() != 10 {
		t.Errorf("got %d, want 10", out.Int64())
	}
}

func TestSharesBalance_RoundTrip(t *testing.T) {
	// sharesFromBalance(balanceFromShares(s, i), i) == s up to one unit
	// of truncation, for any index > 0.
	rng := rand.New(rand.NewSource(42))
	one := big.NewInt(1)

	for i := 0; i < 1000; i++ {
		shares := new(big.Int).SetUint64(rng.Uint64() >> 1)
		// Index in [1.0, ~5.0)
		index := new(big.Int).Add(fixedpoint.Precision, new(big.Int).SetUint64(rng.Uint64()%4_000_000_000_000_000_000))

		balance := fixedpoint.BalanceFromShares(shares, index)
		back, err := fixedpoint.SharesFromBalance(balance, index)
		if err != nil {
			t.Fatalf("SharesFromBalance: %v", err)
		}

		diff := new(big.Int).Sub(shares, back)
		if diff.Sign() < 0 || diff.Cmp(one) > 0 {
			t.Fatalf("round trip drift %s for shares=%s index=%s", diff, shares, index)
		}
	}
}

func TestSharesFromBalance_ZeroIndex(t *testing.T) {
	_, err := fixedpoint.SharesFromBalance(big.NewInt(100), big.NewInt(0))
	if err != fixedpoint.ErrDivisionByZero {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestApplyBps(t *testing.T) {
	// 2% of 108_330 = 2_166.6 → truncates to 2_166
	out := fixedpoint.ApplyBps(big.NewInt(108_330), 200)
	if out.Int64() != 2_166 {
		t.Errorf("got %d, want 2166", out.Int64())
	}
}
