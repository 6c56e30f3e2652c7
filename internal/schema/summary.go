// Package schema materializes a database's catalog into a compact,
// LLM-friendly summary and keeps one cached per configured database,
// refreshing it lazily on first access and periodically thereafter.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Column describes one table column in catalog order.
type Column struct {
	Name         string
	Type         string
	Nullable     bool
	IsPrimaryKey bool
}

// ForeignKey is one edge between two schema-qualified tables.
type ForeignKey struct {
	FromTable string
	FromCol   string
	ToTable   string
	ToCol     string
}

// Table is one schema-qualified table and its columns, keyed in Summary by
// "schema.table".
type Table struct {
	Schema      string
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	RowEstimate int64
}

// QualifiedName returns the "schema.table" key used throughout Summary.
func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Summary is the immutable, shared snapshot of one database's catalog.
// Readers hold a reference for the duration of a request; refreshes swap in
// a new Summary rather than mutating this one.
type Summary struct {
	Database  string
	Tables    map[string]*Table
	LoadedAt  time.Time
	Hash      string
}

// NewSummaryForTesting builds a Summary the same way a real catalog load
// would, for use by other packages' tests that need a fixture Summary
// without a live database.
func NewSummaryForTesting(database string, tables []*Table, blockedTables, blockedColumns []string) *Summary {
	return newSummary(database, tables, toSet(blockedTables), toSet(blockedColumns))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

// newSummary builds a Summary from the raw table list, filtering tables and
// columns against the security block-lists before computing the content
// hash, so a blocked table never reaches the content hash or the prompt
// fingerprint either.
func newSummary(database string, tables []*Table, blockedTables, blockedColumns map[string]struct{}) *Summary {
	filtered := make(map[string]*Table, len(tables))
	for _, t := range tables {
		if _, blocked := blockedTables[strings.ToLower(t.Name)]; blocked {
			continue
		}
		cols := make([]Column, 0, len(t.Columns))
		for _, c := range t.Columns {
			if _, blocked := blockedColumns[strings.ToLower(c.Name)]; blocked {
				continue
			}
			if _, blocked := blockedColumns[strings.ToLower(t.Name)+"."+strings.ToLower(c.Name)]; blocked {
				continue
			}
			cols = append(cols, c)
		}
		kept := *t
		kept.Columns = cols
		filtered[kept.QualifiedName()] = &kept
	}

	// A foreign key whose endpoint table was filtered out is dropped, not
	// surfaced dangling (spec invariant: every FK endpoint resolves to a
	// table present in the summary or is omitted).
	for _, t := range filtered {
		kept := t.ForeignKeys[:0]
		for _, fk := range t.ForeignKeys {
			if _, ok := filtered[fk.ToTable]; ok {
				kept = append(kept, fk)
			}
		}
		t.ForeignKeys = kept
	}

	return &Summary{
		Database: database,
		Tables:   filtered,
		LoadedAt: time.Now(),
		Hash:     contentHash(filtered),
	}
}

// contentHash hashes a deterministic textual rendering of the tables,
// visiting them in sorted name order so a different table order across
// reloads never produces a spurious hash change. Column and foreign-key
// order within a table is part of the hash.
func contentHash(tables map[string]*Table) string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		t := tables[name]
		h.Write([]byte(name))
		for _, c := range t.Columns {
			h.Write([]byte(c.Name))
			h.Write([]byte(c.Type))
		}
		for _, fk := range t.ForeignKeys {
			h.Write([]byte(fk.FromTable + fk.FromCol + fk.ToTable + fk.ToCol))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TableNames returns every qualified table name in the summary, sorted.
func (s *Summary) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
