package shell

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FakeResponse scripts the fake runner's reaction to a command prefix.
type FakeResponse struct {
	Output string
	Err    error
}

// FakeRunner records every command and answers from a scripted table.
// Used by reconciler tests across packages.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]FakeResponse
	missing   map[string]bool
}

// NewFakeRunner returns an empty fake where every command succeeds with no
// output and every binary resolves.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		responses: map[string]FakeResponse{},
		missing:   map[string]bool{},
	}
}

// Respond scripts a response for any command line starting with prefix.
func (f *FakeRunner) Respond(prefix string, resp FakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = resp
}

// SetMissing marks a binary as not installed for LookPath.
func (f *FakeRunner) SetMissing(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[name] = true
}

// Calls returns the recorded command lines in execution order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Called reports whether any recorded command line starts with prefix.
func (f *FakeRunner) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *FakeRunner) lookup(line string) (FakeResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)

	// Longest matching prefix wins so specific scripts override broad ones.
	var best string
	var resp FakeResponse
	found := false
	for prefix, r := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, resp, found = prefix, r, true
		}
	}
	return resp, found
}

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) error {
	resp, _ := f.lookup(commandLine(name, args))
	return resp.Err
}

func (f *FakeRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	resp, _ := f.lookup(commandLine(name, args))
	return resp.Output, resp.Err
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}
