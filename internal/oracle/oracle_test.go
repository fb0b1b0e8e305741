package oracle_test

import (
	"TrancheLedger/internal/fixedpoint"
	"TrancheLedger/internal/oracle"
	"errors"
	"math/big"
	"testing"
)

func scaled(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Precision)
}

func TestImpliedPrice(t *testing.T) {
	// 2_000_000 stable against 1_000 other → price 2_000
	q := oracle.PoolQuote{
		ReserveStable: scaled(2_000_000),
		ReserveOther:  scaled(1_000),
		LPTotalSupply: scaled(40_000),
		StableIsFirst: true,
	}

	price, err := oracle.ImpliedPrice(q)
	if err != nil {
		t.Fatalf("ImpliedPrice: %v", err)
	}
	if price.Cmp(scaled(2_000)) != 0 {
		t.Errorf("got %s, want %s", price, scaled(2_000))
	}
}

func TestImpliedPrice_EmptyPool(t *testing.T) {
	q := oracle.PoolQuote{
		ReserveStable: scaled(1_000),
		ReserveOther:  big.NewInt(0),
		LPTotalSupply: scaled(1),
	}
	if _, err := oracle.ImpliedPrice(q); !errors.Is(err, fixedpoint.ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestPoolValue_BalancedPool(t *testing.T) {
	// Constant-product pool holds equal value on both sides at the implied
	// price, so pool value = 2 × stable reserve.
	q := oracle.PoolQuote{
		ReserveStable: scaled(2_000_000),
		ReserveOther:  scaled(1_000),
		LPTotalSupply: scaled(40_000),
	}

	value, err := oracle.PoolValue(q)
	if err != nil {
		t.Fatalf("PoolValue: %v", err)
	}
	if value.Cmp(scaled(4_000_000)) != 0 {
		t.Errorf("got %s, want %s", value, scaled(4_000_000))
	}
}

func TestLPPrice(t *testing.T) {
	q := oracle.PoolQuote{
		ReserveStable: scaled(2_000_000),
		ReserveOther:  scaled(1_000),
		LPTotalSupply: scaled(40_000),
	}

	price, err := oracle.LPPrice(q)
	if err != nil {
		t.Fatalf("LPPrice: %v", err)
	}
	// 4_000_000 / 40_000 = 100 per LP token
	if price.Cmp(scaled(100)) != 0 {
		t.Errorf("got %s, want %s", price, scaled(100))
	}
}

func TestLPPrice_ZeroSupply(t *testing.T) {
	q := oracle.PoolQuote{
		ReserveStable: scaled(1_000),
		ReserveOther:  scaled(1_000),
		LPTotalSupply: big.NewInt(0),
	}
	if _, err := oracle.LPPrice(q); !errors.Is(err, fixedpoint.ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestTotalVaultValue(t *testing.T) {
	// 500 LP tokens at 100 each + 7_000 idle stable
	value := oracle.TotalVaultValue(scaled(500), scaled(100), scaled(7_000))
	if value.Cmp(scaled(57_000)) != 0 {
		t.Errorf("got %s, want %s", value, scaled(57_000))
	}
}

func TestValidateManualValue_WithinTolerance(t *testing.T) {
	// 0.5% deviation against a 1% tolerance
	if err := oracle.ValidateManualValue(scaled(10_050), scaled(10_000), 100); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
}

func TestValidateManualValue_AtBoundary(t *testing.T) {
	// Exactly 1% deviation against a 1% tolerance — inclusive, passes
	if err := oracle.ValidateManualValue(scaled(10_100), scaled(10_000), 100); err != nil {
		t.Errorf("boundary should be inclusive, got %v", err)
	}
}

func TestValidateManualValue_TooHigh(t *testing.T) {
	err := oracle.ValidateManualValue(scaled(10_101), scaled(10_000), 100)
	if !errors.Is(err, oracle.ErrValueDeviationTooHigh) {
		t.Fatalf("expected ErrValueDeviationTooHigh, got %v", err)
	}
}

func TestValidateManualValue_Below(t *testing.T) {
	// Deviation is symmetric
	err := oracle.ValidateManualValue(scaled(9_800), scaled(10_000), 100)
	if !errors.Is(err, oracle.ErrValueDeviationTooHigh) {
		t.Fatalf("expected ErrValueDeviationTooHigh, got %v", err)
	}
}
