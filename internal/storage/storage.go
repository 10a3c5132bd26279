package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stevenijones/reactcarwashsim/internal/params"
	"github.com/stevenijones/reactcarwashsim/internal/results"
)

// savedAtLayout is fixed width so SavedAt values sort lexically.
const savedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	runsDir string
	now     func() time.Time
}

type RunSummary struct {
	BundleID        string               `json:"bundle_id"`
	SavedAt         string               `json:"saved_at"`
	Params          params.RunParameters `json:"params"`
	RenegedCars     int64                `json:"reneged_cars"`
	AvgWaitTime     float64              `json:"avg_wait_time"`
	LongestWaitTime float64              `json:"longest_wait_time"`
	Samples         int                  `json:"samples"`
	Directory       string               `json:"directory"`
}

type RunBundle struct {
	Summary RunSummary           `json:"summary"`
	Params  params.RunParameters `json:"params"`
	Result  *results.Result      `json:"result"`
}

func NewStore(runsDir string) (*Store, error) {
	if strings.TrimSpace(runsDir) == "" {
		return nil, fmt.Errorf("runs dir is required")
	}
	absDir, err := filepath.Abs(runsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve runs dir %q: %w", runsDir, err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &Store{runsDir: absDir, now: time.Now}, nil
}

func (s *Store) RunsDir() string {
	return s.runsDir
}

// newBundleID returns 8 random hex characters.
func newBundleID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate bundle id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SaveRun writes a succeeded run to its own directory under the runs dir.
func (s *Store) SaveRun(p params.RunParameters, result *results.Result) (RunSummary, error) {
	if result == nil {
		return RunSummary{}, fmt.Errorf("result is required")
	}
	id, err := newBundleID()
	if err != nil {
		return RunSummary{}, err
	}

	now := s.now().UTC()
	dirName := fmt.Sprintf("%s-%s", now.Format("20060102-150405"), id)
	dirPath := filepath.Join(s.runsDir, dirName)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return RunSummary{}, fmt.Errorf("create run bundle dir: %w", err)
	}

	samples := 0
	for _, series := range result.AllSeries() {
		samples += series.Len()
	}
	summary := RunSummary{
		BundleID:        id,
		SavedAt:         now.Format(savedAtLayout),
		Params:          p,
		RenegedCars:     result.Metrics.RenegedCars,
		AvgWaitTime:     result.Metrics.AvgWaitTime,
		LongestWaitTime: result.Metrics.LongestWaitTime,
		Samples:         samples,
		Directory:       dirPath,
	}

	if err := writeJSON(filepath.Join(dirPath, "summary.json"), summary); err != nil {
		return RunSummary{}, err
	}
	if err := writeJSON(filepath.Join(dirPath, "params.json"), p); err != nil {
		return RunSummary{}, err
	}
	if err := writeJSON(filepath.Join(dirPath, "result.json"), result); err != nil {
		return RunSummary{}, err
	}
	bundle := RunBundle{Summary: summary, Params: p, Result: result}
	if err := writeJSON(filepath.Join(dirPath, "bundle.json"), bundle); err != nil {
		return RunSummary{}, err
	}
	return summary, nil
}

// List returns saved run summaries, newest first. Directories without a
// readable summary are skipped. A limit of zero or less means no limit.
func (s *Store) List(limit int) ([]RunSummary, error) {
	entries, err := os.ReadDir(s.runsDir)
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	summaries := make([]RunSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var summary RunSummary
		if err := readJSON(filepath.Join(s.runsDir, entry.Name(), "summary.json"), &summary); err != nil {
			continue
		}
		if summary.Directory == "" {
			summary.Directory = filepath.Join(s.runsDir, entry.Name())
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].SavedAt > summaries[j].SavedAt
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// LoadBundle reads a saved run. Relative directories resolve against the runs
// dir. When bundle.json is unreadable the split files are used instead.
func (s *Store) LoadBundle(directory string) (*RunBundle, error) {
	dir := strings.TrimSpace(directory)
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.runsDir, dir)
	}

	var bundle RunBundle
	if err := readJSON(filepath.Join(dir, "bundle.json"), &bundle); err == nil && bundle.Result != nil {
		if bundle.Summary.Directory == "" {
			bundle.Summary.Directory = dir
		}
		return &bundle, nil
	}

	var summary RunSummary
	if err := readJSON(filepath.Join(dir, "summary.json"), &summary); err != nil {
		return nil, err
	}
	var p params.RunParameters
	if err := readJSON(filepath.Join(dir, "params.json"), &p); err != nil {
		return nil, err
	}
	var result results.Result
	if err := readJSON(filepath.Join(dir, "result.json"), &result); err != nil {
		return nil, err
	}
	summary.Directory = dir
	return &RunBundle{Summary: summary, Params: p, Result: &result}, nil
}

func writeJSON(path string, value any) error {
	blob, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json for %s: %w", path, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
