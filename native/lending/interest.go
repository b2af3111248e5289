package lending

import "math/big"

// InterestModel encapsulates the parameters that shape how interest rates
// react to reserve utilization. All methods are pure functions of their
// inputs so accrual stays deterministic under test.
type InterestModel struct {
	// BaseRate is the minimum borrow rate applied when utilization is zero.
	BaseRate *big.Rat
	// Slope1 is the borrow rate increase per unit of utilization up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional rate increase applied when utilization
	// exceeds the kink point.
	Slope2 *big.Rat
	// Kink is the utilization ratio where the borrow rate slope changes to
	// encourage liquidity.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from floating point inputs.
//
// The parameters should be provided as decimals, e.g. a 2% base rate is
// expressed as 0.02 and an 80% kink utilization is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// Utilization computes the reserve utilization ratio U = totalBorrowed /
// totalSupplied. When no liquidity exists the utilization is defined as zero.
func Utilization(totalBorrowed, totalSupplied *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalSupplied == nil || totalSupplied.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalSupplied)
}

// BorrowRate derives the annualized borrow rate for the given utilization
// from the kinked curve.
func (m *InterestModel) BorrowRate(utilization *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilization == nil || utilization.Sign() == 0 {
		return rate
	}

	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilization.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilization))
	}

	// Rate at the kink using slope1.
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))

	// Additional rate beyond the kink using slope2.
	excess := new(big.Rat).Sub(utilization, kink)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// ComputeRates returns the annualized supply and borrow rates for the given
// utilization. The supply rate is the borrow rate weighted by utilization so
// that accrued borrow interest funds supplier yield exactly.
func (m *InterestModel) ComputeRates(utilization *big.Rat) (supplyRate, borrowRate *big.Rat) {
	borrowRate = m.BorrowRate(utilization)
	if utilization == nil || utilization.Sign() == 0 || borrowRate.Sign() == 0 {
		return new(big.Rat), borrowRate
	}
	supplyRate = new(big.Rat).Mul(borrowRate, utilization)
	return supplyRate, borrowRate
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a reasonable starting configuration featuring
// a kinked rate curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
