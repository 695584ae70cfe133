// Package store persists scenarios and run artifacts: JSON files on disk, a
// SQLite catalog and an optional Redis read-through cache for scenarios.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"replaybench/internal/bench"
	"replaybench/internal/scenario"
)

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("not found")

// ScenarioStore loads and saves scenario snapshots by id.
type ScenarioStore interface {
	SaveScenario(ctx context.Context, s *scenario.Snapshot) error
	LoadScenario(ctx context.Context, id string) (*scenario.Snapshot, error)
}

// FileStore lays artifacts out under a root directory:
//
//	scenarios/<id>.json
//	runs/<runId>/{result,metrics,trajectory}.json
//	comparisons/<id>/comparison.json
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) Root() string { return f.root }

// ScenarioPath is where a scenario snapshot is written.
func (f *FileStore) ScenarioPath(id string) string {
	return filepath.Join(f.root, "scenarios", id+".json")
}

// RunDir is the directory holding one run's artifacts.
func (f *FileStore) RunDir(runID string) string {
	return filepath.Join(f.root, "runs", runID)
}

func (f *FileStore) ComparisonPath(id string) string {
	return filepath.Join(f.root, "comparisons", id, "comparison.json")
}

// SaveScenario writes the snapshot. Encoding is deterministic, so the same
// snapshot always produces the same bytes.
func (f *FileStore) SaveScenario(_ context.Context, s *scenario.Snapshot) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("saving scenario: missing id")
	}
	if err := writeJSON(f.ScenarioPath(s.ID), s); err != nil {
		return fmt.Errorf("saving scenario %s: %w", s.ID, err)
	}
	return nil
}

func (f *FileStore) LoadScenario(_ context.Context, id string) (*scenario.Snapshot, error) {
	s, err := LoadScenarioFile(f.ScenarioPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return s, err
}

// LoadScenarioFile reads, checks and decodes a snapshot file. Hard validation
// errors are returned as *scenario.ValidationError.
func LoadScenarioFile(path string) (*scenario.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return DecodeScenario(raw)
}

// DecodeScenario runs the presence and schema checks before decoding, then
// the structural validator after.
func DecodeScenario(raw []byte) (*scenario.Snapshot, error) {
	if err := scenario.SanityCheck(raw); err != nil {
		return nil, err
	}
	if err := scenario.ValidateSchema(raw); err != nil {
		return nil, err
	}
	var s scenario.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := scenario.ValidateOrError(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveRun writes result.json, metrics.json and, when recorded,
// trajectory.json. It returns the run directory.
func (f *FileStore) SaveRun(res *bench.Result) (string, error) {
	dir := f.RunDir(res.ID)
	if err := writeJSON(filepath.Join(dir, "result.json"), res); err != nil {
		return "", fmt.Errorf("saving result: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "metrics.json"), res.Metrics); err != nil {
		return "", fmt.Errorf("saving metrics: %w", err)
	}
	if res.Trajectory != nil {
		if err := writeJSON(filepath.Join(dir, "trajectory.json"), res.Trajectory); err != nil {
			return "", fmt.Errorf("saving trajectory: %w", err)
		}
	}
	return dir, nil
}

// LoadResult reads a run's result.json.
func (f *FileStore) LoadResult(runID string) (*bench.Result, error) {
	raw, err := os.ReadFile(filepath.Join(f.RunDir(runID), "result.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var res bench.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &res, nil
}

// SaveComparison writes v as comparisons/<id>.json and returns the path.
func (f *FileStore) SaveComparison(id string, v any) (string, error) {
	path := f.ComparisonPath(id)
	if err := writeJSON(path, v); err != nil {
		return "", fmt.Errorf("saving comparison: %w", err)
	}
	return path, nil
}

// writeJSON replaces path atomically: it writes a temp file in the same
// directory and renames it into place.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
