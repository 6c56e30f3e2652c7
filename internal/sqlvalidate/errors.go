package sqlvalidate

import "errors"

// ErrSQLParse indicates the input is empty or could not be parsed as SQL.
// Input holding more than one statement is reported as a SecurityViolation.
var ErrSQLParse = errors.New("sql parse error")

// SecurityViolation reports why a syntactically valid statement was
// rejected by policy. Reason is a short, stable label suitable for a
// metrics cardinality dimension (e.g. "statement_kind", "blocked_function").
type SecurityViolation struct {
	Reason string
	Detail string
}

func (e *SecurityViolation) Error() string {
	if e.Detail == "" {
		return "security violation: " + e.Reason
	}
	return "security violation: " + e.Reason + ": " + e.Detail
}
