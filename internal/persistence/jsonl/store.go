// Package jsonl persists scan artifacts as files: one JSON line per ticker
// snapshot and one JSON document per ranking.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/putrun/internal/persistence"
)

const (
	snapshotsFile     = "snapshots.jsonl"
	rankingFile       = "ranking.json"
	latestRankingFile = "latest_ranking.json"
)

// Store writes artifacts under <dir>/<run_id>/ and keeps
// <dir>/latest_ranking.json pointing at the newest ranking
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a file store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Repository exposes the store through the persistence interfaces
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{Snapshots: s, Rankings: s}
}

// Upsert appends the snapshot to the run's JSONL file. Later lines for the
// same ticker replace earlier ones when read back.
func (s *Store) Upsert(ctx context.Context, snapshot persistence.Snapshot) error {
	if snapshot.RunID == "" || snapshot.Ticker == "" {
		return fmt.Errorf("snapshot run_id and ticker are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runDir := filepath.Join(s.dir, snapshot.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(runDir, snapshotsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open snapshots file: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", snapshot.Ticker, err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", snapshot.Ticker, err)
	}
	return nil
}

// ListByRun reads the run's snapshots ordered by ticker
func (s *Store) ListByRun(ctx context.Context, runID string) ([]persistence.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(filepath.Join(s.dir, runID, snapshotsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open snapshots file: %w", err)
	}
	defer file.Close()

	byTicker := make(map[string]persistence.Snapshot)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		var snap persistence.Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			log.Warn().Err(err).Int("line", lineNo).Str("run_id", runID).Msg("skipping malformed snapshot line")
			continue
		}
		byTicker[snap.Ticker] = snap
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots file: %w", err)
	}

	snapshots := make([]persistence.Snapshot, 0, len(byTicker))
	for _, snap := range byTicker {
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Ticker < snapshots[j].Ticker })
	return snapshots, nil
}

// Save writes the ranking to its run directory and replaces latest_ranking.json
func (s *Store) Save(ctx context.Context, ranking persistence.Ranking) error {
	if ranking.RunID == "" {
		return fmt.Errorf("ranking run_id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(ranking, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ranking: %w", err)
	}

	runDir := filepath.Join(s.dir, ranking.RunID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := writeAtomic(filepath.Join(runDir, rankingFile), data); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(s.dir, latestRankingFile), data); err != nil {
		return err
	}

	log.Debug().Str("run_id", ranking.RunID).Str("dir", runDir).Int("entries", len(ranking.Entries)).Msg("ranking written")
	return nil
}

// Latest reads latest_ranking.json; a missing file yields nil
func (s *Store) Latest(ctx context.Context) (*persistence.Ranking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, latestRankingFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest ranking: %w", err)
	}

	var ranking persistence.Ranking
	if err := json.Unmarshal(data, &ranking); err != nil {
		return nil, fmt.Errorf("failed to decode latest ranking: %w", err)
	}
	return &ranking, nil
}

// writeAtomic writes via a temp file and rename so readers never see a
// partial document
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
