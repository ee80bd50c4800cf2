// Package report collects the outcome of every archive in a run and renders
// it as a summary line or a YAML document.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Terminal state names shared with the pipeline.
const (
	StateUnchanged   = "UNCHANGED"
	StateSubstituted = "SUBSTITUTED"
	StateRepacked    = "REPACKED"
	StateFailed      = "FAILED"
)

var printer = message.NewPrinter(language.English)

// Entry is the outcome of one archive.
type Entry struct {
	Path           string   `yaml:"path"`
	Base           string   `yaml:"base"`
	State          string   `yaml:"state"`
	Signed         bool     `yaml:"signed,omitempty"`
	Replaced       []string `yaml:"replaced,omitempty"`
	OriginalDigest string   `yaml:"original_blake3,omitempty"`
	NewDigest      string   `yaml:"new_blake3,omitempty"`
	Error          string   `yaml:"error,omitempty"`
}

// Report is the ordered list of archive outcomes of one run.
type Report struct {
	Root     string    `yaml:"root"`
	Drivers  string    `yaml:"drivers"`
	DryRun   bool      `yaml:"dry_run,omitempty"`
	Started  time.Time `yaml:"started"`
	Finished time.Time `yaml:"finished"`
	Archives []Entry   `yaml:"archives"`
}

// New starts a report for a run over root with overrides from drivers.
func New(root, drivers string, dryRun bool) *Report {
	return &Report{Root: root, Drivers: drivers, DryRun: dryRun, Started: time.Now()}
}

// Add appends an archive outcome, keeping discovery order.
func (r *Report) Add(e Entry) {
	r.Archives = append(r.Archives, e)
}

// Finish stamps the end time.
func (r *Report) Finish() {
	r.Finished = time.Now()
}

// Counts returns the number of archives per terminal state.
func (r *Report) Counts() map[string]int {
	counts := make(map[string]int)
	for _, e := range r.Archives {
		counts[e.State]++
	}
	return counts
}

// Failed returns the number of archives that ended in FAILED.
func (r *Report) Failed() int {
	return r.Counts()[StateFailed]
}

// Failures returns the failed entries.
func (r *Report) Failures() []Entry {
	var out []Entry
	for _, e := range r.Archives {
		if e.State == StateFailed {
			out = append(out, e)
		}
	}
	return out
}

// Summary renders a one-line overview, e.g.
// "3 archives: 1 REPACKED, 2 UNCHANGED".
func (r *Report) Summary() string {
	counts := r.Counts()
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Strings(states)

	noun := "archives"
	if len(r.Archives) == 1 {
		noun = "archive"
	}
	if len(states) == 0 {
		return printer.Sprintf("%d %s", 0, noun)
	}
	parts := make([]string, 0, len(states))
	for _, s := range states {
		parts = append(parts, printer.Sprintf("%d %s", counts[s], s))
	}
	return printer.Sprintf("%d %s: %s", len(r.Archives), noun, strings.Join(parts, ", "))
}

// YAML renders the report.
func (r *Report) YAML() ([]byte, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}
	return out, nil
}

// WriteFile writes the YAML report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	data, err := r.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
