package detail

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// MarketSource lists service markets.
type MarketSource interface {
	ListMarkets(ctx context.Context) ([]triage.Market, error)
}

// MarketDirectory caches the market list after the first successful read.
type MarketDirectory struct {
	src   MarketSource
	group singleflight.Group

	mu     sync.RWMutex
	loaded bool
	all    []triage.Market
	byID   map[string]triage.Market
}

// NewMarketDirectory creates a directory backed by src.
func NewMarketDirectory(src MarketSource) *MarketDirectory {
	return &MarketDirectory{src: src}
}

func (d *MarketDirectory) load(ctx context.Context) error {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if loaded {
		return nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan("markets", func() (any, error) {
		list, err := d.src.ListMarkets(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}
		byID := make(map[string]triage.Market, len(list))
		for _, m := range list {
			byID[m.ID] = m
		}
		d.mu.Lock()
		d.all = append([]triage.Market(nil), list...)
		d.byID = byID
		d.loaded = true
		d.mu.Unlock()
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All returns every market.
func (d *MarketDirectory) All(ctx context.Context) ([]triage.Market, error) {
	if err := d.load(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]triage.Market(nil), d.all...), nil
}

// Lookup finds one market by id.
func (d *MarketDirectory) Lookup(ctx context.Context, id string) (triage.Market, bool, error) {
	if err := d.load(ctx); err != nil {
		return triage.Market{}, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byID[id]
	return m, ok, nil
}

// Chip is a selected-market label.
type Chip struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	TZAbbreviation string `json:"tzAbbreviation,omitempty"`
	Known          bool   `json:"known"`
}

// Chips resolves selected market ids to labels in selection order. Unknown
// ids, or all ids when the list cannot be read, fall back to the raw id.
func (d *MarketDirectory) Chips(ctx context.Context, ids []string) []Chip {
	out := make([]Chip, 0, len(ids))
	loadErr := d.load(ctx)
	for _, id := range ids {
		c := Chip{ID: id, Label: id}
		if loadErr == nil {
			d.mu.RLock()
			m, ok := d.byID[id]
			d.mu.RUnlock()
			if ok {
				c.Label = m.Name
				c.TZAbbreviation = m.TZAbbreviation
				c.Known = true
			}
		}
		out = append(out, c)
	}
	return out
}
