package symbols

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.yaml")
	content := `feeds:
  - feed_id: feed-btc
    symbol: BTC/USD
    ticker: X:BTC-USD
  - feed_id: feed-eth
    symbol: ETH/USD
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d, want 2", table.Len())
	}

	t.Run("Lookup", func(t *testing.T) {
		entry, ok := table.Lookup("feed-btc")
		if !ok || entry.Symbol != "BTC/USD" || entry.Ticker != "X:BTC-USD" {
			t.Errorf("Lookup(feed-btc) = %+v, %v", entry, ok)
		}
		if _, ok := table.Lookup("missing"); ok {
			t.Error("Lookup found a missing feed")
		}
	})

	t.Run("Symbol", func(t *testing.T) {
		if got := table.Symbol("feed-eth"); got != "ETH/USD" {
			t.Errorf("Symbol(feed-eth) = %q", got)
		}
		if got := table.Symbol("unknown-feed"); got != "unknown-feed" {
			t.Errorf("Symbol fallback = %q, want the feed id itself", got)
		}
	})

	t.Run("FeedsForTicker", func(t *testing.T) {
		feeds := table.FeedsForTicker("X:BTC-USD")
		if len(feeds) != 1 || feeds[0] != "feed-btc" {
			t.Errorf("FeedsForTicker = %v", feeds)
		}
		if feeds := table.FeedsForTicker("X:NOPE-USD"); len(feeds) != 0 {
			t.Errorf("unknown ticker returned %v", feeds)
		}
	})

	t.Run("Entries", func(t *testing.T) {
		entries := table.Entries()
		if len(entries) != 2 || entries[0].FeedID != "feed-btc" || entries[1].FeedID != "feed-eth" {
			t.Errorf("Entries = %+v, want config order", entries)
		}
	})
}

func TestLoadTableErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadTable(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("missing file produced no error")
		}
	})

	t.Run("BadYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("feeds: [unterminated"), 0o644)
		if _, err := LoadTable(path); err == nil {
			t.Error("bad YAML produced no error")
		}
	})

	t.Run("EmptyFeeds", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.yaml")
		os.WriteFile(path, []byte("feeds: []"), 0o644)
		if _, err := LoadTable(path); err == nil {
			t.Error("empty feed list produced no error")
		}
	})
}

func TestLoadTableWithFallback(t *testing.T) {
	table := LoadTableWithFallback(filepath.Join(t.TempDir(), "nope.yaml"))
	if table.Len() != len(DefaultEntries) {
		t.Fatalf("fallback table has %d entries, want %d", table.Len(), len(DefaultEntries))
	}
	if got := table.Symbol(DefaultEntries[0].FeedID); got != "BTC/USD" {
		t.Errorf("fallback Symbol = %q", got)
	}
}

func TestNewTableSkipsDuplicatesAndBlanks(t *testing.T) {
	table := NewTable([]Entry{
		{FeedID: "a", Symbol: "A"},
		{FeedID: "a", Symbol: "A-again"},
		{FeedID: "", Symbol: "blank"},
	})
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
	if got := table.Symbol("a"); got != "A" {
		t.Errorf("first entry did not win: %q", got)
	}
}
