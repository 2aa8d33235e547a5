package underlying

import "fmt"

// Window is the inclusive DTE acceptance window for considered expirations
type Window struct {
	MinDTE int `yaml:"min" json:"min"`
	MaxDTE int `yaml:"max" json:"max"`
}

// DefaultWindow returns the 25-50 day window
func DefaultWindow() Window {
	return Window{MinDTE: 25, MaxDTE: 50}
}

// Validate rejects empty windows and windows that admit same-day expiries,
// which would divide the annualized return by zero
func (w Window) Validate() error {
	if w.MinDTE < 1 {
		return fmt.Errorf("%w: min DTE must be at least 1, got %d", ErrInvalidArgument, w.MinDTE)
	}
	if w.MaxDTE < w.MinDTE {
		return fmt.Errorf("%w: max DTE %d is below min DTE %d", ErrInvalidArgument, w.MaxDTE, w.MinDTE)
	}
	return nil
}

// Contains reports whether dte is inside the window
func (w Window) Contains(dte int) bool {
	return dte >= w.MinDTE && dte <= w.MaxDTE
}

// DeltaRange is an inclusive range of put delta magnitudes
type DeltaRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultDeltaRange returns the 0.1-0.3 range
func DefaultDeltaRange() DeltaRange {
	return DeltaRange{Min: 0.1, Max: 0.3}
}

// Validate requires 0 <= Min <= Max <= 1
func (r DeltaRange) Validate() error {
	if r.Min < 0 || r.Max > 1 || r.Min > r.Max {
		return fmt.Errorf("%w: delta range [%v, %v] must satisfy 0 <= min <= max <= 1", ErrInvalidArgument, r.Min, r.Max)
	}
	return nil
}

// Contains reports whether delta lies in the range, both ends included
func (r DeltaRange) Contains(delta float64) bool {
	return delta >= r.Min && delta <= r.Max
}
