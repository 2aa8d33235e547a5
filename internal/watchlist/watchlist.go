// Package watchlist reads the tickers a scan runs over.
package watchlist

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/market"
)

// Default is used when no watchlist is given
var Default = []string{"OHI", "MPW", "PFE"}

// Record is one screener row of a JSON watchlist
type Record struct {
	Ticker   string  `json:"ticker"`
	Company  string  `json:"company,omitempty"`
	Sector   string  `json:"sector,omitempty"`
	Industry string  `json:"industry,omitempty"`
	Country  string  `json:"country,omitempty"`
	Price    float64 `json:"price,omitempty"`
}

// UnmarshalJSON accepts the price as a number or as screener text such as
// "31.20" or "$1,320.50". An empty or "-" price decodes as zero.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		Price json.RawMessage `json:"price,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	price, err := parsePrice(aux.Price)
	if err != nil {
		return err
	}
	*r = Record(aux.plain)
	r.Price = price
	return nil
}

func parsePrice(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		text = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(text))
		if text == "" || text == "-" {
			return 0, nil
		}
	}
	price, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %s: %w", raw, err)
	}
	return price, nil
}

// Filter is a static screen applied to JSON watchlist records. Zero
// values disable a criterion.
type Filter struct {
	Country  string
	MaxPrice float64
}

// Match reports whether r passes the filter
func (f Filter) Match(r Record) bool {
	if f.Country != "" && !strings.EqualFold(r.Country, f.Country) {
		return false
	}
	if f.MaxPrice > 0 && r.Price > f.MaxPrice {
		return false
	}
	return true
}

// Parse reads one ticker per line. Blank lines and '#' comments are
// ignored; tickers are upper-cased and de-duplicated preserving order.
func Parse(r io.Reader) ([]string, error) {
	var tickers []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		ticker := strings.ToUpper(strings.TrimSpace(line))
		if ticker == "" || seen[ticker] {
			continue
		}
		seen[ticker] = true
		tickers = append(tickers, ticker)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}
	return tickers, nil
}

// ParseRecords reads a JSON array of screener records and returns the
// tickers that pass the filter, in file order. Rows that cannot be decoded
// are skipped.
func ParseRecords(r io.Reader, filter Filter) ([]string, error) {
	var rows []json.RawMessage
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode watchlist records: %w", err)
	}

	var tickers []string
	seen := make(map[string]bool)
	for i, row := range rows {
		var rec Record
		if err := json.Unmarshal(row, &rec); err != nil {
			log.Debug().Err(err).Int("row", i).Msg("skipping unreadable watchlist record")
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(rec.Ticker))
		if ticker == "" || seen[ticker] || !filter.Match(rec) {
			continue
		}
		seen[ticker] = true
		tickers = append(tickers, ticker)
	}
	return tickers, nil
}

// Load reads a watchlist file: JSON records for .json files, otherwise
// plain text
func Load(path string, filter Filter) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchlist: %w", err)
	}
	defer f.Close()

	var tickers []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		tickers, err = ParseRecords(f, filter)
	} else {
		tickers, err = Parse(f)
	}
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", path).Int("tickers", len(tickers)).Msg("watchlist loaded")
	return tickers, nil
}

// FilterByLastClose drops tickers whose last close is above maxPrice.
// Tickers whose price cannot be fetched are kept so the scan reports them.
func FilterByLastClose(ctx context.Context, tickers []string, md market.Provider, maxPrice float64) []string {
	if maxPrice <= 0 {
		return tickers
	}

	kept := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		price, err := md.GetLastClose(ctx, ticker)
		if err != nil {
			log.Debug().Err(err).Str("ticker", ticker).Msg("price filter could not fetch last close, keeping ticker")
			kept = append(kept, ticker)
			continue
		}
		if price > maxPrice {
			log.Debug().Str("ticker", ticker).Float64("price", price).Float64("max_price", maxPrice).Msg("ticker above max price")
			continue
		}
		kept = append(kept, ticker)
	}
	return kept
}
