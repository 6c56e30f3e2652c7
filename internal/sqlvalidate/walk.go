package sqlvalidate

import (
	"reflect"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

var nodePtrType = reflect.TypeOf((*pg_query.Node)(nil))

// walk visits every *pg_query.Node reachable from n, in the order libpg_query
// laid them out. Every statement, sub-select, function call, table
// reference, and column reference in the tree is a Node somewhere in this
// traversal, since libpg_query represents all of them through the same
// oneof wrapper type.
func walk(n *pg_query.Node, visit func(*pg_query.Node)) {
	if n == nil {
		return
	}
	visit(n)
	walkChildren(reflect.ValueOf(n).Elem(), visit)
}

func walkChildren(v reflect.Value, visit func(*pg_query.Node)) {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		if v.Type() == nodePtrType {
			walk(v.Interface().(*pg_query.Node), visit)
			return
		}
		walkChildren(v.Elem(), visit)
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		walkChildren(v.Elem(), visit)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if f.CanInterface() {
				walkChildren(f, visit)
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkChildren(v.Index(i), visit)
		}
	}
}

// stringValue extracts the text of a String leaf node (used for identifier
// lists like qualified function and column names), returning ok=false for
// anything else (e.g. the A_Star wildcard in "table.*").
func stringValue(n *pg_query.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	if s := n.GetString_(); s != nil {
		return s.Sval, true
	}
	return "", false
}

// qualifiedNameParts resolves a dotted identifier list (schema.table.column
// etc.) to its string components, skipping any non-String parts.
func qualifiedNameParts(fields []*pg_query.Node) []string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if s, ok := stringValue(f); ok {
			parts = append(parts, s)
		}
	}
	return parts
}
