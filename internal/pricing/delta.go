package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrNumericDomain is returned when pricing inputs fall outside the domain
// of the Black-Scholes formula
var ErrNumericDomain = errors.New("numeric domain error")

// DaysPerYear converts calendar days to years for time-to-expiry
const DaysPerYear = 365.0

// OptionType selects the side of the contract
type OptionType int

const (
	Call OptionType = iota
	Put
)

func (o OptionType) String() string {
	switch o {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return "unknown"
	}
}

// YearsFromDTE returns the time-to-expiry in years for a days-to-expiration count
func YearsFromDTE(dte int) float64 {
	return float64(dte) / DaysPerYear
}

// Delta calculates the Black-Scholes delta of a European option.
//
// Parameters:
//   - kind: Call or Put
//   - spot: spot price of the underlying, must be positive
//   - strike: strike price, must be positive
//   - years: time to expiry in years, must not be negative
//   - rate: annualized risk-free rate
//   - sigma: annualized volatility, must not be negative
//
// Put deltas lie in [-1, 0], call deltas in [0, 1]. When years or sigma is
// zero the distribution collapses onto the forward and the delta saturates
// according to moneyness; an option exactly at the forward gets half.
func Delta(kind OptionType, spot, strike, years, rate, sigma float64) (float64, error) {
	if err := validate(spot, strike, years, sigma); err != nil {
		return 0, err
	}

	var callDelta float64
	if years == 0 || sigma == 0 {
		callDelta = degenerateCallDelta(spot, strike, years, rate)
	} else {
		sqrtT := math.Sqrt(years)
		d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*years) / (sigma * sqrtT)
		callDelta = normCDF(d1)
	}

	switch kind {
	case Call:
		return callDelta, nil
	case Put:
		return callDelta - 1, nil
	default:
		return 0, fmt.Errorf("%w: unsupported option type %d", ErrNumericDomain, kind)
	}
}

// PutDeltaMagnitude returns |delta| of a put, the value stored on option records
func PutDeltaMagnitude(spot, strike float64, dte int, rate, sigma float64) (float64, error) {
	d, err := Delta(Put, spot, strike, YearsFromDTE(dte), rate, sigma)
	if err != nil {
		return 0, err
	}
	return math.Abs(d), nil
}

func validate(spot, strike, years, sigma float64) error {
	// negated comparisons also reject NaN
	switch {
	case !(spot > 0) || math.IsInf(spot, 0):
		return fmt.Errorf("%w: spot %v must be positive", ErrNumericDomain, spot)
	case !(strike > 0) || math.IsInf(strike, 0):
		return fmt.Errorf("%w: strike %v must be positive", ErrNumericDomain, strike)
	case !(sigma >= 0) || math.IsInf(sigma, 0):
		return fmt.Errorf("%w: volatility %v must not be negative", ErrNumericDomain, sigma)
	case !(years >= 0) || math.IsInf(years, 0):
		return fmt.Errorf("%w: time to expiry %v must not be negative", ErrNumericDomain, years)
	}
	return nil
}

// degenerateCallDelta is the limit of N(d1) as sigma*sqrt(t) -> 0
func degenerateCallDelta(spot, strike, years, rate float64) float64 {
	x := math.Log(spot/strike) + rate*years
	switch {
	case x > 0:
		return 1
	case x < 0:
		return 0
	default:
		return 0.5
	}
}

// normCDF computes the standard normal cumulative distribution via math.Erf
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// Price calculates the Black-Scholes price of a European option. With zero
// time or volatility it returns the discounted intrinsic value.
func Price(kind OptionType, spot, strike, years, rate, sigma float64) (float64, error) {
	if err := validate(spot, strike, years, sigma); err != nil {
		return 0, err
	}

	discount := math.Exp(-rate * years)
	if years == 0 || sigma == 0 {
		forward := spot / discount
		if kind == Call {
			return math.Max(0, forward-strike) * discount, nil
		}
		return math.Max(0, strike-forward) * discount, nil
	}

	sqrtT := math.Sqrt(years)
	d1 := (math.Log(spot/strike) + (rate+0.5*sigma*sigma)*years) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	switch kind {
	case Call:
		return spot*normCDF(d1) - strike*discount*normCDF(d2), nil
	case Put:
		return strike*discount*normCDF(-d2) - spot*normCDF(-d1), nil
	default:
		return 0, fmt.Errorf("%w: unsupported option type %d", ErrNumericDomain, kind)
	}
}
