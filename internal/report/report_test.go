package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.yaml.in/yaml/v3"
)

func sample() *Report {
	r := New("/vmfs", "/root/drivers", false)
	r.Add(Entry{Path: "/vmfs/a/net.v00", Base: "net.v00", State: StateRepacked, Replaced: []string{"e1000"}})
	r.Add(Entry{Path: "/vmfs/a/s.v00", Base: "s.v00", State: StateUnchanged, Signed: true})
	r.Add(Entry{Path: "/vmfs/b/s.v00", Base: "s.v00", State: StateFailed, Error: "boom"})
	r.Add(Entry{Path: "/vmfs/b/x.v01", Base: "x.v01", State: StateUnchanged})
	r.Finish()
	return r
}

func TestCounts(t *testing.T) {
	r := sample()
	counts := r.Counts()
	if counts[StateUnchanged] != 2 || counts[StateRepacked] != 1 || counts[StateFailed] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if r.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", r.Failed())
	}
	if f := r.Failures(); len(f) != 1 || f[0].Path != "/vmfs/b/s.v00" {
		t.Errorf("Failures() = %+v", f)
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		r    *Report
		want string
	}{
		{"empty", New("/vmfs", "d", false), "0 archives"},
		{"mixed", sample(), "4 archives: 1 FAILED, 1 REPACKED, 2 UNCHANGED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Summary(); got != tt.want {
				t.Errorf("Summary() = %q, want %q", got, tt.want)
			}
		})
	}

	one := New("/vmfs", "d", false)
	one.Add(Entry{State: StateUnchanged})
	if got := one.Summary(); got != "1 archive: 1 UNCHANGED" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.yaml")
	r := sample()
	if err := r.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "state: REPACKED") {
		t.Errorf("report missing state field:\n%s", data)
	}

	var decoded Report
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not valid YAML: %v", err)
	}
	if len(decoded.Archives) != 4 {
		t.Fatalf("decoded %d archives, want 4", len(decoded.Archives))
	}
	if decoded.Archives[2].Error != "boom" {
		t.Errorf("error field lost: %+v", decoded.Archives[2])
	}
	if decoded.Archives[0].Replaced[0] != "e1000" {
		t.Errorf("replaced list lost: %+v", decoded.Archives[0])
	}
}
