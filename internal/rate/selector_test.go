package rate_test

import (
	"TrancheLedger/internal/fixedpoint"
	"TrancheLedger/internal/rate"
	"errors"
	"math/big"
	"testing"
	"time"
)

const month = 30 * 24 * time.Hour

func scaled(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Precision)
}

func TestValidateTiers(t *testing.T) {
	if err := rate.ValidateTiers(rate.DefaultTiers()); err != nil {
		t.Errorf("default tiers rejected: %v", err)
	}

	if err := rate.ValidateTiers(nil); !errors.Is(err, rate.ErrInvalidParameter) {
		t.Errorf("empty table: expected ErrInvalidParameter, got %v", err)
	}

	ascending := []rate.Tier{
		{Name: "min", MonthlyRate: fixedpoint.MustBig("9166000000000000")},
		{Name: "max", MonthlyRate: fixedpoint.MustBig("10833000000000000")},
	}
	if err := rate.ValidateTiers(ascending); !errors.Is(err, rate.ErrInvalidParameter) {
		t.Errorf("ascending table: expected ErrInvalidParameter, got %v", err)
	}
}

func TestScaledRate_LinearInElapsed(t *testing.T) {
	monthly := fixedpoint.MustBig("10833000000000000")

	half := rate.ScaledRate(monthly, month/2)
	full := rate.ScaledRate(monthly, month)
	double := rate.ScaledRate(monthly, 2*month)

	if full.Cmp(monthly) != 0 {
		t.Errorf("one month should equal monthly rate: got %s", full)
	}
	if new(big.Int).Mul(half, big.NewInt(2)).Cmp(full) != 0 {
		t.Errorf("half month should be exactly half: %s vs %s", half, full)
	}
	if new(big.Int).Mul(full, big.NewInt(2)).Cmp(double) != 0 {
		t.Errorf("no implicit compounding within a call: %s vs %s", full, double)
	}
}

// The reference settlement scenario: 10M supply, 11,140,712 net value over
// one month sustains the strongest tier.
func TestSelect_StrongestTierPasses(t *testing.T) {
	sel, err := rate.Select(scaled(10_000_000), scaled(11_140_712), month, rate.DefaultTiers(), 200, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if sel.Tier.Name != "max" {
		t.Fatalf("tier: got %s, want max", sel.Tier.Name)
	}
	if sel.BackstopNeeded {
		t.Error("backstop should not be needed")
	}
	if sel.UserTokens.Cmp(scaled(108_330)) != 0 {
		t.Errorf("user tokens: got %s, want %s", sel.UserTokens, scaled(108_330))
	}
	wantFee := fixedpoint.MustBig("2166600000000000000000") // 2% of 108_330
	if sel.FeeTokens.Cmp(wantFee) != 0 {
		t.Errorf("fee tokens: got %s, want %s", sel.FeeTokens, wantFee)
	}
	wantSupply := fixedpoint.MustBig("10110496600000000000000000")
	if sel.NewSupply.Cmp(wantSupply) != 0 {
		t.Errorf("new supply: got %s, want %s", sel.NewSupply, wantSupply)
	}
	if sel.Backing.Cmp(fixedpoint.Precision) < 0 {
		t.Errorf("selected backing below 100%%: %s", sel.Backing)
	}
}

func TestSelect_FallsThroughToMid(t *testing.T) {
	// 10,105,000 covers the mid candidate supply (10,102,000) but not the
	// max candidate (10,110,496.6).
	sel, err := rate.Select(scaled(10_000_000), scaled(10_105_000), month, rate.DefaultTiers(), 200, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Tier.Name != "mid" {
		t.Fatalf("tier: got %s, want mid", sel.Tier.Name)
	}
	if sel.BackstopNeeded {
		t.Error("backstop should not be needed")
	}
	if sel.Backing.Cmp(fixedpoint.Precision) < 0 {
		t.Errorf("selected backing below 100%%: %s", sel.Backing)
	}
}

func TestSelect_BackstopWhenNoTierSustains(t *testing.T) {
	// Net value equal to current supply cannot absorb any yield mint.
	sel, err := rate.Select(scaled(10_000_000), scaled(10_000_000), month, rate.DefaultTiers(), 200, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Tier.Name != "min" {
		t.Fatalf("tier: got %s, want min", sel.Tier.Name)
	}
	if !sel.BackstopNeeded {
		t.Error("backstop flag must be set when no tier reaches 100%")
	}
}

// Management-fee tokens minted this period must dilute the candidate
// supply; omitting them selects too generous a tier.
func TestSelect_IncludesManagementFeeTokens(t *testing.T) {
	netValue := fixedpoint.MustBig("10110497000000000000000000") // just above the max candidate

	without, err := rate.Select(scaled(10_000_000), netValue, month, rate.DefaultTiers(), 200, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if without.Tier.Name != "max" {
		t.Fatalf("without mgmt tokens: got %s, want max", without.Tier.Name)
	}

	with, err := rate.Select(scaled(10_000_000), netValue, month, rate.DefaultTiers(), 200, scaled(1_000))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if with.Tier.Name != "mid" {
		t.Fatalf("with mgmt tokens: got %s, want mid (dilution must weaken the candidate)", with.Tier.Name)
	}
}

func TestSelect_GreedyNeverSkipsPassingTier(t *testing.T) {
	// For a spread of net values, the selected tier must be the strongest
	// whose candidate backing reaches 100%.
	tiers := rate.DefaultTiers()
	for netUnits := int64(10_000_000); netUnits <= 10_200_000; netUnits += 7_919 {
		sel, err := rate.Select(scaled(10_000_000), scaled(netUnits), month, tiers, 200, nil)
		if err != nil {
			t.Fatalf("Select(%d): %v", netUnits, err)
		}
		if sel.BackstopNeeded {
			continue
		}
		// Every stronger tier must have failed.
		for _, tier := range tiers {
			if tier.Name == sel.Tier.Name {
				break
			}
			stronger, err := rate.Select(scaled(10_000_000), scaled(netUnits), month, []rate.Tier{tier}, 200, nil)
			if err != nil {
				t.Fatalf("probe: %v", err)
			}
			if !stronger.BackstopNeeded {
				t.Fatalf("net=%d: selected %s while stronger %s passes", netUnits, sel.Tier.Name, tier.Name)
			}
		}
	}
}

func TestSelect_ZeroSupply(t *testing.T) {
	_, err := rate.Select(big.NewInt(0), scaled(1_000), month, rate.DefaultTiers(), 200, nil)
	if !errors.Is(err, fixedpoint.ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestNewIndex_FoldsPerfFee(t *testing.T) {
	scaledRate := fixedpoint.MustBig("10833000000000000") // 1.0833% for the period
	got := rate.NewIndex(fixedpoint.Precision, scaledRate, 200)

	// growth = 0.010833 × 1.02 = 0.01104966
	want := fixedpoint.MustBig("1011049660000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNewIndex_MonotoneInElapsedAndRate(t *testing.T) {
	old := fixedpoint.MustBig("1234500000000000000")
	tiers := rate.DefaultTiers()

	prev := new(big.Int).Set(old)
	for _, elapsed := range []time.Duration{time.Hour, 24 * time.Hour, month, 2 * month} {
		idx := rate.NewIndex(old, rate.ScaledRate(tiers[0].MonthlyRate, elapsed), 200)
		if idx.Cmp(prev) <= 0 {
			t.Fatalf("index not strictly increasing in elapsed: %s <= %s", idx, prev)
		}
		prev = idx
	}

	// Stronger tier, same elapsed → strictly larger index.
	weak := rate.NewIndex(old, rate.ScaledRate(tiers[2].MonthlyRate, month), 200)
	strong := rate.NewIndex(old, rate.ScaledRate(tiers[0].MonthlyRate, month), 200)
	if strong.Cmp(weak) <= 0 {
		t.Errorf("index not increasing in rate: %s <= %s", strong, weak)
	}
}
