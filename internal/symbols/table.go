package symbols

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry maps one upstream feed id to its display symbol and, when the feed
// also trades on the socket stream, the stream ticker (e.g. "X:BTC-USD").
type Entry struct {
	FeedID string `yaml:"feed_id" json:"feed_id"`
	Symbol string `yaml:"symbol" json:"symbol"`
	Ticker string `yaml:"ticker,omitempty" json:"ticker,omitempty"`
}

// tableConfig represents the YAML configuration structure
type tableConfig struct {
	Feeds []Entry `yaml:"feeds"`
}

// DefaultEntries covers the feeds the service knows about without a config
// file. Feed ids are the canonical upstream identifiers.
var DefaultEntries = []Entry{
	{
		FeedID: "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
		Symbol: "BTC/USD",
		Ticker: "X:BTC-USD",
	},
	{
		FeedID: "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		Symbol: "ETH/USD",
		Ticker: "X:ETH-USD",
	},
	{
		FeedID: "ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
		Symbol: "SOL/USD",
		Ticker: "X:SOL-USD",
	},
}

// Table is an immutable feed/symbol/ticker mapping shared across the service.
type Table struct {
	byFeed   map[string]Entry
	byTicker map[string][]string // ticker -> feed ids
	order    []string            // feed ids in config order
}

// NewTable builds a Table from explicit entries.
func NewTable(entries []Entry) *Table {
	t := &Table{
		byFeed:   make(map[string]Entry, len(entries)),
		byTicker: make(map[string][]string),
	}
	for _, e := range entries {
		if e.FeedID == "" {
			continue
		}
		if _, dup := t.byFeed[e.FeedID]; dup {
			continue
		}
		t.byFeed[e.FeedID] = e
		t.order = append(t.order, e.FeedID)
		if e.Ticker != "" {
			t.byTicker[e.Ticker] = append(t.byTicker[e.Ticker], e.FeedID)
		}
	}
	return t
}

// LoadTable loads the mapping from a YAML file.
func LoadTable(filePath string) (*Table, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}

	var config tableConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse symbols YAML: %w", err)
	}

	if len(config.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds found in config file")
	}

	return NewTable(config.Feeds), nil
}

// LoadTableWithFallback tries to load from YAML, falls back to defaults.
func LoadTableWithFallback(filePath string) *Table {
	table, err := LoadTable(filePath)
	if err != nil {
		return NewTable(DefaultEntries)
	}
	return table
}

// Lookup returns the entry for a feed id.
func (t *Table) Lookup(feedID string) (Entry, bool) {
	e, ok := t.byFeed[feedID]
	return e, ok
}

// Symbol returns the display symbol for a feed id, falling back to the
// feed id itself for feeds outside the table.
func (t *Table) Symbol(feedID string) string {
	if e, ok := t.byFeed[feedID]; ok && e.Symbol != "" {
		return e.Symbol
	}
	return feedID
}

// FeedsForTicker returns the feed ids mapped to a stream ticker.
func (t *Table) FeedsForTicker(ticker string) []string {
	return t.byTicker[ticker]
}

// Entries returns all entries in config order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byFeed[id])
	}
	return out
}

// Len returns the number of mapped feeds.
func (t *Table) Len() int {
	return len(t.byFeed)
}
