// Package sqlvalidate rejects anything that is not a safe, read-only SQL
// statement before it reaches a configured database, by walking the real
// parse tree rather than pattern-matching the raw text.
package sqlvalidate

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ExplainPolicy governs whether EXPLAIN statements are permitted, and
// whether they may include ANALYZE (which actually executes the plan).
type ExplainPolicy string

const (
	ExplainDisabled       ExplainPolicy = "DISABLED"
	ExplainOnly           ExplainPolicy = "EXPLAIN_ONLY"
	ExplainAnalyzeAllowed ExplainPolicy = "EXPLAIN_ANALYZE"
)

// Config is the security policy the validator enforces.
type Config struct {
	ExplainPolicy    ExplainPolicy
	BlockedTables    []string
	BlockedColumns   []string
	BlockedFunctions []string
}

// Validator applies the five ordered rules from spec §4.3 to candidate SQL.
type Validator struct {
	explainPolicy    ExplainPolicy
	blockedTables    map[string]struct{}
	blockedColumns   map[string]struct{}
	blockedFunctions map[string]struct{}
}

// New builds a Validator from cfg, lower-casing every block-list entry so
// comparisons at validation time are case-insensitive.
func New(cfg Config) *Validator {
	return &Validator{
		explainPolicy:    cfg.ExplainPolicy,
		blockedTables:    toLowerSet(cfg.BlockedTables),
		blockedColumns:   toLowerSet(cfg.BlockedColumns),
		blockedFunctions: toLowerSet(cfg.BlockedFunctions),
	}
}

func toLowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

// Validate applies all five rules in order and returns the first violation,
// or nil if sql is safe to execute.
func (v *Validator) Validate(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return fmt.Errorf("%w: empty statement", ErrSQLParse)
	}

	result, err := pg_query.Parse(sql)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSQLParse, err)
	}
	if len(result.Stmts) != 1 {
		return &SecurityViolation{Reason: "multiple_statements", Detail: fmt.Sprintf("found %d statements", len(result.Stmts))}
	}

	root := result.Stmts[0].Stmt
	if root == nil {
		return fmt.Errorf("%w: empty statement tree", ErrSQLParse)
	}

	if err := v.checkStatementKind(root, sql); err != nil {
		return err
	}
	if err := v.checkBlockedFunctions(root); err != nil {
		return err
	}
	if err := v.checkBlockedTables(root); err != nil {
		return err
	}
	if err := v.checkBlockedColumns(root); err != nil {
		return err
	}
	return nil
}

// checkStatementKind permits only SELECT (which also covers UNION/
// INTERSECT/EXCEPT and WITH-prefixed selects — libpg_query represents all
// three as a SelectStmt) and EXPLAIN governed by explainPolicy. Everything
// else is rejected by default, which covers every DML/DDL statement kind
// without needing to enumerate each one. An INSERT, UPDATE, DELETE or MERGE
// nested anywhere in the tree (a data-modifying CTE, or the statement under
// an EXPLAIN) is rejected as well.
func (v *Validator) checkStatementKind(root *pg_query.Node, sql string) error {
	var write error
	walk(root, func(n *pg_query.Node) {
		if write == nil && (n.GetInsertStmt() != nil || n.GetUpdateStmt() != nil || n.GetDeleteStmt() != nil || n.GetMergeStmt() != nil) {
			write = &SecurityViolation{Reason: "statement_kind", Detail: fmt.Sprintf("%q is not a read-only statement", statementKindName(n))}
		}
	})
	if write != nil {
		return write
	}

	if root.GetSelectStmt() != nil {
		return nil
	}

	if explain := root.GetExplainStmt(); explain != nil {
		return v.checkExplain(explain, sql)
	}

	return &SecurityViolation{Reason: "statement_kind", Detail: fmt.Sprintf("%q is not a read-only statement", statementKindName(root))}
}

func (v *Validator) checkExplain(explain *pg_query.ExplainStmt, sql string) error {
	switch v.explainPolicy {
	case ExplainAnalyzeAllowed:
		return nil
	case ExplainOnly:
		if explainRequestsAnalyze(explain, sql) {
			return &SecurityViolation{Reason: "explain_analyze", Detail: "EXPLAIN ANALYZE is not permitted under the current policy"}
		}
		return nil
	default:
		return &SecurityViolation{Reason: "explain_disabled", Detail: "EXPLAIN statements are not permitted"}
	}
}

// explainRequestsAnalyze inspects EXPLAIN's DefElem option list for an
// "analyze" option, falling back to a raw-text check since some libpg_query
// versions fold boolean-valued options inconsistently.
func explainRequestsAnalyze(explain *pg_query.ExplainStmt, sql string) bool {
	for _, opt := range explain.Options {
		if def := opt.GetDefElem(); def != nil && strings.EqualFold(def.Defname, "analyze") {
			return true
		}
	}
	return strings.Contains(strings.ToUpper(sql), "ANALYZE")
}

func (v *Validator) checkBlockedFunctions(root *pg_query.Node) error {
	if len(v.blockedFunctions) == 0 {
		return nil
	}
	var violation error
	walk(root, func(n *pg_query.Node) {
		if violation != nil {
			return
		}
		fn := n.GetFuncCall()
		if fn == nil {
			return
		}
		parts := qualifiedNameParts(fn.Funcname)
		if len(parts) == 0 {
			return
		}
		name := strings.ToLower(parts[len(parts)-1])
		if _, blocked := v.blockedFunctions[name]; blocked {
			violation = &SecurityViolation{Reason: "blocked_function", Detail: name}
		}
	})
	return violation
}

func (v *Validator) checkBlockedTables(root *pg_query.Node) error {
	if len(v.blockedTables) == 0 {
		return nil
	}
	var violation error
	walk(root, func(n *pg_query.Node) {
		if violation != nil {
			return
		}
		rv := n.GetRangeVar()
		if rv == nil {
			return
		}
		name := strings.ToLower(rv.Relname)
		if _, blocked := v.blockedTables[name]; blocked {
			violation = &SecurityViolation{Reason: "blocked_table", Detail: name}
		}
	})
	return violation
}

func (v *Validator) checkBlockedColumns(root *pg_query.Node) error {
	if len(v.blockedColumns) == 0 {
		return nil
	}
	var violation error
	walk(root, func(n *pg_query.Node) {
		if violation != nil {
			return
		}
		ref := n.GetColumnRef()
		if ref == nil {
			return
		}
		parts := qualifiedNameParts(ref.Fields)
		if len(parts) == 0 {
			return
		}
		column := strings.ToLower(parts[len(parts)-1])
		if _, blocked := v.blockedColumns[column]; blocked {
			violation = &SecurityViolation{Reason: "blocked_column", Detail: column}
			return
		}
		if len(parts) >= 2 {
			qualified := strings.ToLower(parts[len(parts)-2]) + "." + column
			if _, blocked := v.blockedColumns[qualified]; blocked {
				violation = &SecurityViolation{Reason: "blocked_column", Detail: qualified}
			}
		}
	})
	return violation
}

// Normalize reparses and deparses sql into a canonical form, for logging and
// cache-key use.
func (v *Validator) Normalize(sql string) (string, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSQLParse, err)
	}
	out, err := pg_query.Deparse(result)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSQLParse, err)
	}
	return out, nil
}

// ExtractTables returns the sorted, deduplicated set of table names
// referenced anywhere in sql.
func (v *Validator) ExtractTables(sql string) ([]string, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLParse, err)
	}
	if len(result.Stmts) == 0 || result.Stmts[0].Stmt == nil {
		return nil, nil
	}

	seen := make(map[string]struct{})
	walk(result.Stmts[0].Stmt, func(n *pg_query.Node) {
		if rv := n.GetRangeVar(); rv != nil {
			seen[rv.Relname] = struct{}{}
		}
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func statementKindName(root *pg_query.Node) string {
	switch {
	case root.GetInsertStmt() != nil:
		return "INSERT"
	case root.GetUpdateStmt() != nil:
		return "UPDATE"
	case root.GetDeleteStmt() != nil:
		return "DELETE"
	case root.GetCreateStmt() != nil, root.GetCreateTableAsStmt() != nil, root.GetViewStmt() != nil, root.GetIndexStmt() != nil:
		return "CREATE"
	case root.GetDropStmt() != nil:
		return "DROP"
	case root.GetAlterTableStmt() != nil:
		return "ALTER"
	case root.GetGrantStmt() != nil:
		return "GRANT_OR_REVOKE"
	case root.GetTruncateStmt() != nil:
		return "TRUNCATE"
	case root.GetVacuumStmt() != nil:
		return "VACUUM"
	case root.GetCopyStmt() != nil:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}
