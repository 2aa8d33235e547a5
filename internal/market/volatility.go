package market

import (
	"fmt"
	"math"
)

// AnnualizedVolatility returns the sample standard deviation of
// period-over-period percentage changes scaled by sqrt(periodsPerYear).
// At least three closes are needed to estimate a deviation from two returns.
func AnnualizedVolatility(closes []float64, periodsPerYear float64) (float64, error) {
	if len(closes) < 3 {
		return 0, fmt.Errorf("%w: need at least 3 closes for volatility, got %d", ErrNoData, len(closes))
	}
	if periodsPerYear <= 0 {
		return 0, fmt.Errorf("periods per year must be positive, got %v", periodsPerYear)
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 {
			return 0, fmt.Errorf("close %d is not positive: %v", i-1, prev)
		}
		returns = append(returns, closes[i]/prev-1)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	sumSq := 0.0
	for _, r := range returns {
		sumSq += (r - mean) * (r - mean)
	}
	stdev := math.Sqrt(sumSq / float64(len(returns)-1))

	return stdev * math.Sqrt(periodsPerYear), nil
}
