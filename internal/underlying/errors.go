package underlying

import "errors"

var (
	// ErrDataUnavailable means the market data provider has no usable data
	// for the ticker. Scans skip the ticker.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidArgument means the caller passed an argument the model
	// cannot answer for, e.g. an expiration outside the considered set
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoQualifyingOptions means no put in the expiration has a delta
	// inside the requested range. This is distinct from a zero return.
	ErrNoQualifyingOptions = errors.New("no qualifying options")

	// ErrNotAnalyzed means a return query ran before
	// InitializeGreeksAndProfitability
	ErrNotAnalyzed = errors.New("underlying not analyzed")
)
