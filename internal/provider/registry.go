package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// The vendor registry maps vendor names to their literal grammar tables.
// Built-in vendors register at init; config-defined vendors register (or
// override) at startup.
var (
	registryMu sync.RWMutex
	grammars   = make(map[string]Grammar)
)

// RegisterGrammar adds or replaces a vendor grammar. The vendor name is
// case-insensitive.
func RegisterGrammar(g Grammar) error {
	if err := g.validate(); err != nil {
		return err
	}
	registryMu.Lock()
	grammars[strings.ToLower(g.Vendor)] = g
	registryMu.Unlock()
	return nil
}

func mustRegister(g Grammar) {
	if err := RegisterGrammar(g); err != nil {
		panic(err)
	}
}

// GrammarFor returns the registered grammar for a vendor.
func GrammarFor(vendor string) (Grammar, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	g, ok := grammars[strings.ToLower(vendor)]
	return g, ok
}

// Vendors returns the registered vendor names, sorted.
func Vendors() []string {
	registryMu.RLock()
	names := make([]string, 0, len(grammars))
	for name := range grammars {
		names = append(names, name)
	}
	registryMu.RUnlock()
	sort.Strings(names)
	return names
}

// New constructs a provider for the named vendor, bound to the pane in opts.
func New(vendor string, opts Options) (Provider, error) {
	g, ok := GrammarFor(vendor)
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownVendor, vendor, Vendors())
	}
	return newAgent(g, opts)
}

// DetectVendor guesses the vendor from a launch command line by matching
// the leading binary of each registered grammar. Returns "" when nothing
// matches.
func DetectVendor(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	binary := strings.ToLower(fields[0])

	registryMu.RLock()
	defer registryMu.RUnlock()
	for name, g := range grammars {
		launchFields := strings.Fields(g.LaunchCommand)
		if len(launchFields) > 0 && strings.ToLower(launchFields[0]) == binary {
			return name
		}
	}
	return ""
}
