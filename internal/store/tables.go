package store

import (
	"fmt"
	"regexp"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Tables names the tables the datastore backends read and write.
type Tables struct {
	Config  string
	Ledger  string
	Article string
	Cycle   string
}

// DefaultTables returns the table names shared with the website and admin tools.
func DefaultTables() Tables {
	return Tables{
		Config:  "system_config",
		Ledger:  "processed_messages",
		Article: "messages",
		Cycle:   "cycle_runs",
	}
}

// WithDefaults fills empty names from DefaultTables.
func (t Tables) WithDefaults() Tables {
	def := DefaultTables()
	if t.Config == "" {
		t.Config = def.Config
	}
	if t.Ledger == "" {
		t.Ledger = def.Ledger
	}
	if t.Article == "" {
		t.Article = def.Article
	}
	if t.Cycle == "" {
		t.Cycle = def.Cycle
	}
	return t
}

// Validate rejects names that are not plain SQL identifiers.
func (t Tables) Validate() error {
	for _, name := range []string{t.Config, t.Ledger, t.Article, t.Cycle} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Channels is the per-cycle channel aggregate table.
func (t Tables) Channels() string {
	return t.Cycle + "_channels"
}
