package settlement_test

import (
	"TrancheLedger/internal/fixedpoint"
	"TrancheLedger/internal/oracle"
	"TrancheLedger/internal/rate"
	"TrancheLedger/internal/settlement"
	"TrancheLedger/internal/spillover"
	"errors"
	"math/big"
	"testing"
	"time"

	"TrancheLedger/internal/fees"
)

const month = 30 * 24 * time.Hour

var epoch = time.Unix(1_700_000_000, 0)

func scaled(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Precision)
}

func baseConfig() settlement.Config {
	return settlement.Config{
		Fees:       fees.Config{PerfFeeBps: 200},
		Tiers:      rate.DefaultTiers(),
		Thresholds: spillover.DefaultThresholds(),
		Split:      spillover.DefaultSplit(),
		Oracle:     oracle.Config{MaxDeviationBps: 500, ValidationEnabled: false},
		MinPeriod:  24 * time.Hour,
	}
}

func baseSnapshot() settlement.Snapshot {
	return settlement.Snapshot{
		SeniorSupply:   scaled(10_000_000),
		SeniorIndex:    fixedpoint.Clone(fixedpoint.Precision),
		JuniorValue:    scaled(2_000_000),
		ReserveValue:   scaled(1_500_000),
		LastSettlement: epoch,
	}
}

func TestSettle_FullPeriodClose(t *testing.T) {
	res, err := settlement.Settle(baseSnapshot(), settlement.Valuation{Manual: scaled(11_140_712)},
		epoch.Add(month), baseConfig())
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if res.SelectedTier.Name != "max" {
		t.Fatalf("tier: got %s, want max", res.SelectedTier.Name)
	}
	if res.BackstopNeeded {
		t.Error("backstop should not be needed")
	}
	if res.UserMint.Cmp(scaled(108_330)) != 0 {
		t.Errorf("user mint: got %s, want %s", res.UserMint, scaled(108_330))
	}
	wantPerf := fixedpoint.MustBig("2166600000000000000000")
	if res.PerfFeeMint.Cmp(wantPerf) != 0 {
		t.Errorf("perf fee mint: got %s, want %s", res.PerfFeeMint, wantPerf)
	}
	if res.MgmtFeeValue.Sign() != 0 {
		t.Errorf("mgmt fee: got %s, want 0 (rate not configured)", res.MgmtFeeValue)
	}
	wantSupply := fixedpoint.MustBig("10110496600000000000000000")
	if res.NewSeniorSupply.Cmp(wantSupply) != 0 {
		t.Errorf("new supply: got %s, want %s", res.NewSeniorSupply, wantSupply)
	}
	wantIndex := fixedpoint.MustBig("1011049660000000000")
	if res.NewIndex.Cmp(wantIndex) != 0 {
		t.Errorf("new index: got %s, want %s", res.NewIndex, wantIndex)
	}

	if res.Zone != spillover.ZoneSpillover {
		t.Fatalf("zone: got %s, want spillover", res.Zone)
	}
	excess := new(big.Int).Add(res.ToJunior, res.ToReserve)
	wantExcess := new(big.Int).Sub(res.NetValue, res.FinalSeniorValue)
	if excess.Cmp(wantExcess) != 0 {
		t.Errorf("excess split not exact: %s vs %s", excess, wantExcess)
	}

	// Total value across all three tranches is conserved.
	before := new(big.Int).Add(res.NetValue, scaled(2_000_000))
	before.Add(before, scaled(1_500_000))
	after := new(big.Int).Add(res.FinalSeniorValue, new(big.Int).Add(scaled(2_000_000), res.ToJunior))
	after.Add(after, new(big.Int).Add(scaled(1_500_000), res.ToReserve))
	if before.Cmp(after) != 0 {
		t.Errorf("value not conserved: before=%s after=%s", before, after)
	}
}

func TestSettle_Deterministic(t *testing.T) {
	run := func() *settlement.Result {
		res, err := settlement.Settle(baseSnapshot(), settlement.Valuation{Manual: scaled(11_140_712)},
			epoch.Add(month), baseConfig())
		if err != nil {
			t.Fatalf("Settle: %v", err)
		}
		return res
	}

	a, b := run(), run()
	pairs := []struct {
		name string
		x, y *big.Int
	}{
		{"newIndex", a.NewIndex, b.NewIndex},
		{"newSupply", a.NewSeniorSupply, b.NewSeniorSupply},
		{"userMint", a.UserMint, b.UserMint},
		{"perfFeeMint", a.PerfFeeMint, b.PerfFeeMint},
		{"toJunior", a.ToJunior, b.ToJunior},
		{"toReserve", a.ToReserve, b.ToReserve},
		{"finalSenior", a.FinalSeniorValue, b.FinalSeniorValue},
	}
	for _, p := range pairs {
		if p.x.Cmp(p.y) != 0 {
			t.Errorf("%s differs across identical runs: %s vs %s", p.name, p.x, p.y)
		}
	}
	if a.SelectedTier.Name != b.SelectedTier.Name || a.Zone != b.Zone {
		t.Error("tier or zone differs across identical runs")
	}
}

func TestSettle_ManagementFeeDilutes(t *testing.T) {
	cfg := baseConfig()
	cfg.Fees.AnnualMgmtBps = 100

	res, err := settlement.Settle(baseSnapshot(), settlement.Valuation{Manual: scaled(11_140_712)},
		epoch.Add(month), cfg)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}

	if res.MgmtFeeValue.Sign() <= 0 {
		t.Fatal("management fee must be charged")
	}
	wantNet := new(big.Int).Sub(res.GrossValue, res.MgmtFeeValue)
	if res.NetValue.Cmp(wantNet) != 0 {
		t.Errorf("net value: got %s, want gross-fee %s", res.NetValue, wantNet)
	}

	// The fee tokens dilute the candidate supply: the waterfall counts
	// user mint + perf fee + mgmt fee against net value.
	candidate := new(big.Int).Add(scaled(10_000_000), res.UserMint)
	candidate.Add(candidate, res.PerfFeeMint)
	candidate.Add(candidate, res.MgmtFeeValue)
	if res.NewSeniorSupply.Cmp(candidate) != 0 {
		t.Errorf("new supply must include mgmt fee tokens: got %s, want %s", res.NewSeniorSupply, candidate)
	}
}

func TestSettle_CalculatedValuePath(t *testing.T) {
	cfg := baseConfig()
	cfg.Oracle.UseCalculatedValue = true

	// Balanced pool: value 2_000_000, LP supply 1_000 → lpPrice 2_000.
	src := oracle.StaticSource{Quote: oracle.PoolQuote{
		ReserveStable: scaled(1_000_000),
		ReserveOther:  scaled(500),
		LPTotalSupply: scaled(1_000),
	}}
	val := settlement.Valuation{
		Source:     src,
		LPBalance:  scaled(100),
		IdleStable: scaled(50_000),
	}

	snap := baseSnapshot()
	snap.SeniorSupply = scaled(240_000)

	res, err := settlement.Settle(snap, val, epoch.Add(month), cfg)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	// 100 LP × 2_000 + 50_000 idle = 250_000
	if res.GrossValue.Cmp(scaled(250_000)) != 0 {
		t.Errorf("gross value: got %s, want %s", res.GrossValue, scaled(250_000))
	}
}

func TestSettle_DeviationRejectedBeforeAnyResult(t *testing.T) {
	cfg := baseConfig()
	cfg.Oracle.ValidationEnabled = true
	cfg.Oracle.MaxDeviationBps = 100

	src := oracle.StaticSource{Quote: oracle.PoolQuote{
		ReserveStable: scaled(1_000_000),
		ReserveOther:  scaled(500),
		LPTotalSupply: scaled(1_000),
	}}
	val := settlement.Valuation{
		Source:     src,
		LPBalance:  scaled(100),
		IdleStable: scaled(50_000),
		Manual:     scaled(400_000), // 60% above the calculated 250_000
	}

	res, err := settlement.Settle(baseSnapshot(), val, epoch.Add(month), cfg)
	if !errors.Is(err, oracle.ErrValueDeviationTooHigh) {
		t.Fatalf("expected ErrValueDeviationTooHigh, got %v", err)
	}
	if res != nil {
		t.Error("no partial result on a hard error")
	}
}

func TestSettle_RejectsBackwardClock(t *testing.T) {
	res, err := settlement.Settle(baseSnapshot(), settlement.Valuation{Manual: scaled(11_000_000)},
		epoch.Add(-time.Hour), baseConfig())
	if !errors.Is(err, settlement.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if res != nil {
		t.Error("no partial result on a hard error")
	}
}

func TestSettle_MissingValueSource(t *testing.T) {
	_, err := settlement.Settle(baseSnapshot(), settlement.Valuation{}, epoch.Add(month), baseConfig())
	if !errors.Is(err, settlement.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGuardPeriod(t *testing.T) {
	cfg := baseConfig()

	if err := cfg.GuardPeriod(time.Hour); !errors.Is(err, settlement.ErrTooSoon) {
		t.Errorf("expected ErrTooSoon, got %v", err)
	}
	if err := cfg.GuardPeriod(24 * time.Hour); err != nil {
		t.Errorf("boundary elapsed rejected: %v", err)
	}

	// The computation itself stays valid below the minimum.
	res, err := settlement.Settle(baseSnapshot(), settlement.Valuation{Manual: scaled(11_000_000)},
		epoch.Add(time.Hour), cfg)
	if err != nil {
		t.Fatalf("Settle below minimum period: %v", err)
	}
	if res.Elapsed != time.Hour {
		t.Errorf("elapsed: got %s, want 1h", res.Elapsed)
	}
}

func TestSettle_BackstopShortfallCompletes(t *testing.T) {
	snap := baseSnapshot()
	snap.SeniorSupply = scaled(1_000_000)
	snap.JuniorValue = big.NewInt(0)
	snap.ReserveValue = big.NewInt(0)

	res, err := settlement.Settle(snap, settlement.Valuation{Manual: scaled(900_000)},
		epoch.Add(month), baseConfig())
	if err != nil {
		t.Fatalf("an under-collateralized settlement must still complete: %v", err)
	}
	if res.Zone != spillover.ZoneBackstop {
		t.Fatalf("zone: got %s, want backstop", res.Zone)
	}
	if !res.BackstopNeeded {
		t.Error("backstop flag must be set")
	}
	if res.Shortfall.Sign() <= 0 {
		t.Error("shortfall must be reported, not clamped")
	}
}
