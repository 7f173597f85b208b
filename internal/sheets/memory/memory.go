package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finanzas/internal/export"
	"finanzas/internal/sheets"
)

// Publisher keeps published tabs in memory. Used when no spreadsheet is
// configured and in tests.
type Publisher struct {
	mu   sync.Mutex
	tabs map[string][][]any
	n    int
}

var _ sheets.Publisher = (*Publisher)(nil)

func New() *Publisher {
	return &Publisher{tabs: make(map[string][][]any)}
}

// Publish replaces the tab content.
func (p *Publisher) Publish(_ context.Context, tab string, t export.Table) (string, error) {
	if tab == "" {
		return "", fmt.Errorf("publish: empty tab name")
	}
	values := sheets.Values(t)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabs[tab] = values
	p.n++
	return sheets.A1Range(tab, len(values), sheets.Width(values)), nil
}

// Tab returns a copy of the tab content and whether it exists.
func (p *Publisher) Tab(name string) ([][]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	values, ok := p.tabs[name]
	if !ok {
		return nil, false
	}
	out := make([][]any, len(values))
	for i, row := range values {
		out[i] = append([]any(nil), row...)
	}
	return out, true
}

// Tabs lists tab names in order.
func (p *Publisher) Tabs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.tabs))
	for name := range p.tabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Published counts Publish calls.
func (p *Publisher) Published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
