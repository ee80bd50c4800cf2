package pipeline

import "github.com/vmkdrivers/update-drivers/internal/report"

// State is the progress of one archive through the pipeline.
type State int

const (
	Discovered State = iota
	Decompressed
	UnwrappedSigned
	UnwrappedPlain
	Containerized
	Extracted
	Substituted
	Unchanged
	Repacked
	Failed
)

var stateNames = [...]string{
	Discovered:      "DISCOVERED",
	Decompressed:    "DECOMPRESSED",
	UnwrappedSigned: "UNWRAPPED_SIGNED",
	UnwrappedPlain:  "UNWRAPPED_PLAIN",
	Containerized:   "CONTAINERIZED",
	Extracted:       "EXTRACTED",
	Substituted:     report.StateSubstituted,
	Unchanged:       report.StateUnchanged,
	Repacked:        report.StateRepacked,
	Failed:          report.StateFailed,
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether no further step follows s. Substituted is only
// terminal in a dry run.
func (s State) Terminal() bool {
	switch s {
	case Unchanged, Repacked, Failed:
		return true
	}
	return false
}
