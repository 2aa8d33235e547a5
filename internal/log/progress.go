package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ProgressIndicator renders scan progress as a single rewritten line
type ProgressIndicator struct {
	mu        sync.Mutex
	out       io.Writer
	name      string
	total     int
	current   int
	last      string
	startTime time.Time
	showBar   bool
	showETA   bool
	now       func() time.Time
}

// ProgressConfig configures progress indicator behavior
type ProgressConfig struct {
	ShowProgress bool
	ShowETA      bool
}

// DefaultProgressConfig shows the bar and the ETA
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{ShowProgress: true, ShowETA: true}
}

// NewProgressIndicator creates a progress indicator writing to out
func NewProgressIndicator(out io.Writer, name string, total int, config ProgressConfig) *ProgressIndicator {
	return &ProgressIndicator{
		out:       out,
		name:      name,
		total:     total,
		startTime: time.Now(),
		showBar:   config.ShowProgress,
		showETA:   config.ShowETA,
		now:       time.Now,
	}
}

// Observe records one finished ticker. Its signature matches the scanner's
// progress callback.
func (pi *ProgressIndicator) Observe(done, total int, ticker string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current = done
	pi.total = total
	pi.last = ticker

	log.Debug().Str("ticker", ticker).Int("done", done).Int("total", total).Msg("Ticker analyzed")
	pi.print()
}

// Increment advances progress by one step
func (pi *ProgressIndicator) Increment() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current++
	pi.print()
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime)
	fmt.Fprintf(pi.out, "\r\033[K✅ %s completed (%d tickers, %v)\n", pi.name, pi.total, duration.Round(time.Millisecond))
}

// Fail marks the progress as failed
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime)
	fmt.Fprintf(pi.out, "\r\033[K❌ %s failed: %s (%v)\n", pi.name, reason, duration.Round(time.Millisecond))
}

func (pi *ProgressIndicator) print() {
	var output strings.Builder

	// Clear line and return to beginning
	output.WriteString("\r\033[K")
	output.WriteString(pi.name)

	if pi.showBar && pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := barWidth * pi.current / pi.total
		if filled > barWidth {
			filled = barWidth
		}

		output.WriteString(" [")
		output.WriteString(strings.Repeat("█", filled))
		output.WriteString(strings.Repeat("░", barWidth-filled))
		output.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", pi.current, pi.total, percentage))
	} else if pi.total > 0 {
		output.WriteString(fmt.Sprintf(" (%d/%d)", pi.current, pi.total))
	}

	if pi.showETA && pi.total > 0 && pi.current > 0 && pi.current < pi.total {
		elapsed := pi.now().Sub(pi.startTime)
		perItem := elapsed / time.Duration(pi.current)
		eta := perItem * time.Duration(pi.total-pi.current)
		output.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
	}

	if pi.last != "" {
		output.WriteString(" - ")
		output.WriteString(pi.last)
	}

	fmt.Fprint(pi.out, output.String())
}
