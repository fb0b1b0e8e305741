package rate

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"TrancheLedger/internal/fixedpoint"
)

// ErrInvalidParameter is returned for a malformed tier table.
var ErrInvalidParameter = errors.New("rate: invalid tier configuration")

var secondsPerMonth = big.NewInt(30 * 24 * 60 * 60)

// Tier is one yield tier in the waterfall. MonthlyRate is the precomputed
// fixed-point monthly rate for the annual percentage.
type Tier struct {
	Name        string
	AnnualBps   uint64
	MonthlyRate *big.Int
}

// DefaultTiers returns the standard tier table in strict descending order.
// The waterfall walks this list top-down, so adding a tier is a data change
// here, not new branching logic in Select.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "max", AnnualBps: 1_300, MonthlyRate: fixedpoint.MustBig("10833000000000000")}, // 13% / 12
		{Name: "mid", AnnualBps: 1_200, MonthlyRate: fixedpoint.MustBig("10000000000000000")}, // 12% / 12
		{Name: "min", AnnualBps: 1_100, MonthlyRate: fixedpoint.MustBig("9166000000000000")},  // 11% / 12
	}
}

// ValidateTiers rejects an empty table or one not in strict descending
// monthly-rate order.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: empty tier table", ErrInvalidParameter)
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MonthlyRate.Cmp(tiers[i-1].MonthlyRate) >= 0 {
			return fmt.Errorf("%w: tiers must be strictly descending (%s >= %s)",
				ErrInvalidParameter, tiers[i].Name, tiers[i-1].Name)
		}
	}
	return nil
}

// Selection is the outcome of one waterfall search.
type Selection struct {
	Tier           Tier
	ScaledRate     *big.Int // monthly rate prorated to the elapsed period
	UserTokens     *big.Int
	FeeTokens      *big.Int
	NewSupply      *big.Int
	Backing        *big.Int // candidate backing of the selected tier
	BackstopNeeded bool
}

// ScaledRate prorates a monthly rate linearly over the elapsed period:
// rate × elapsed / 30d. No compounding happens within one call.
func ScaledRate(monthlyRate *big.Int, elapsed time.Duration) *big.Int {
	out := new(big.Int).Mul(monthlyRate, big.NewInt(int64(elapsed/time.Second)))
	return out.Quo(out, secondsPerMonth)
}

// Select runs the greedy waterfall: candidates are evaluated in strict
// descending order and the first tier whose candidate backing reaches 100%
// wins — weaker tiers are never evaluated past that point. The candidate
// supply includes the user mint, the performance-fee mint, AND any
// management-fee tokens already minted this period; omitting the
// management-fee component makes the search select too generous a tier.
// If no tier reaches 100% backing the weakest tier is selected with
// BackstopNeeded set.
func Select(
	currentSupply, netValue *big.Int,
	elapsed time.Duration,
	tiers []Tier,
	perfFeeBps uint64,
	mgmtFeeTokens *big.Int,
) (*Selection, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	if currentSupply.Sign() == 0 {
		return nil, fixedpoint.ErrDivisionByZero
	}
	if mgmtFeeTokens == nil {
		mgmtFeeTokens = new(big.Int)
	}

	var last *Selection
	for _, tier := range tiers {
		scaledRate := ScaledRate(tier.MonthlyRate, elapsed)

		userTokens := new(big.Int).Mul(currentSupply, scaledRate)
		userTokens.Quo(userTokens, fixedpoint.Precision)

		feeTokens := fixedpoint.ApplyBps(userTokens, perfFeeBps)

		candidateSupply := new(big.Int).Add(currentSupply, userTokens)
		candidateSupply.Add(candidateSupply, feeTokens)
		candidateSupply.Add(candidateSupply, mgmtFeeTokens)

		backing, err := fixedpoint.BackingRatio(netValue, candidateSupply)
		if err != nil {
			return nil, err
		}

		last = &Selection{
			Tier:       tier,
			ScaledRate: scaledRate,
			UserTokens: userTokens,
			FeeTokens:  feeTokens,
			NewSupply:  candidateSupply,
			Backing:    backing,
		}

		if backing.Cmp(fixedpoint.Precision) >= 0 {
			return last, nil
		}
	}

	// No tier sustains 100% backing: pay the weakest tier anyway and flag
	// that the backstop must restore collateral.
	last.BackstopNeeded = true
	return last, nil
}

// NewIndex folds the performance-fee share into index growth so minted
// fee-shares compound identically to user shares:
// newIndex = oldIndex × (1 + scaledRate × (1 + perfFeeFraction)).
func NewIndex(oldIndex, scaledRate *big.Int, perfFeeBps uint64) *big.Int {
	growth := new(big.Int).Mul(scaledRate, new(big.Int).SetUint64(10_000+perfFeeBps))
	growth.Quo(growth, fixedpoint.BasisPoints)
	factor := new(big.Int).Add(fixedpoint.Precision, growth)
	out := new(big.Int).Mul(oldIndex, factor)
	return out.Quo(out, fixedpoint.Precision)
}
