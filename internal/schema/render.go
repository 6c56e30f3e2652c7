package schema

import "strings"

// Render produces the compact textual fingerprint sent to the SQL
// generator, restricted to tableNames (nil means every table). Format:
//
//	TABLE schema.table(col type[ PRIMARY KEY], ...)
//	FK schema.table(col) -> schema.table(col)
func (s *Summary) Render(tableNames []string) string {
	names := tableNames
	if names == nil {
		names = s.TableNames()
	}

	var b strings.Builder
	var fks []string

	for _, name := range names {
		t, ok := s.Tables[name]
		if !ok {
			continue
		}
		b.WriteString("TABLE ")
		b.WriteString(name)
		b.WriteByte('(')
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteByte(' ')
			b.WriteString(c.Type)
			if c.IsPrimaryKey {
				b.WriteString(" PRIMARY KEY")
			}
		}
		b.WriteString(")\n")

		for _, fk := range t.ForeignKeys {
			fks = append(fks, "FK "+fk.FromTable+"("+fk.FromCol+") -> "+fk.ToTable+"("+fk.ToCol+")")
		}
	}
	for _, line := range fks {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
