// Package vmtartest provides an in-process stand-in for the vmtar tool.
package vmtartest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
)

// Magic prefixes every container the Fake creates.
var Magic = []byte("FAKEVTAR")

// Fake implements vmtar.Converter. Its container format is Magic followed by
// the tar bytes, so a container that did not go through the fake is rejected.
type Fake struct {
	mu       sync.Mutex
	Extracts []string
	Creates  []string
	// FailCreate makes Create return an error.
	FailCreate bool
}

// Wrap builds a container from raw tar bytes.
func Wrap(tarData []byte) []byte {
	return append(append([]byte{}, Magic...), tarData...)
}

// Extract strips Magic from container and writes the tar to tarOut.
func (f *Fake) Extract(_ context.Context, container, tarOut string) error {
	f.mu.Lock()
	f.Extracts = append(f.Extracts, container)
	f.mu.Unlock()

	data, err := os.ReadFile(container)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(data, Magic) {
		return fmt.Errorf("fake vmtar: %s is not a container", container)
	}
	return os.WriteFile(tarOut, data[len(Magic):], 0644)
}

// Create prefixes the tar at tarIn with Magic and writes it to containerOut.
func (f *Fake) Create(_ context.Context, tarIn, containerOut string) error {
	f.mu.Lock()
	f.Creates = append(f.Creates, tarIn)
	fail := f.FailCreate
	f.mu.Unlock()

	if fail {
		return fmt.Errorf("fake vmtar: create disabled")
	}
	data, err := os.ReadFile(tarIn)
	if err != nil {
		return err
	}
	return os.WriteFile(containerOut, Wrap(data), 0644)
}
