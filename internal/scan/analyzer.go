package scan

import (
	"context"

	"github.com/sawpanic/putrun/internal/market"
	"github.com/sawpanic/putrun/internal/rates"
	"github.com/sawpanic/putrun/internal/underlying"
)

// ModelAnalyzer constructs and analyzes an underlying.Underlying per ticker
type ModelAnalyzer struct {
	Market  market.Provider
	Rates   rates.Provider
	Options underlying.Options
}

// NewModelAnalyzer creates an analyzer backed by live providers
func NewModelAnalyzer(md market.Provider, rp rates.Provider, opts underlying.Options) *ModelAnalyzer {
	return &ModelAnalyzer{Market: md, Rates: rp, Options: opts}
}

// Analyze loads the ticker and computes delta and return for every
// considered put
func (m *ModelAnalyzer) Analyze(ctx context.Context, ticker string) (Analysis, error) {
	u, err := underlying.Construct(ctx, ticker, m.Options, m.Market, m.Rates)
	if err != nil {
		return nil, &StageError{Stage: StageConstruct, Err: err}
	}
	if err := u.InitializeGreeksAndProfitability(); err != nil {
		return nil, &StageError{Stage: StageAnalyze, Err: err}
	}
	return u, nil
}
