// Package sqlbuilder composes parameterized SQL text for the revision
// engine and schema manager. It never interpolates user-supplied values;
// those travel through named or positional bind parameters.
package sqlbuilder

import (
	"fmt"
	"strings"
)

// CreateTable renders CREATE TABLE IF NOT EXISTS <table> (<columnDefs...>).
func CreateTable(table string, columnDefs []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(columnDefs, ", "))
}

// AddColumn renders ALTER TABLE <table> ADD COLUMN <columnDef>.
func AddColumn(table string, columnDef string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, columnDef)
}

// DropTable renders DROP TABLE IF EXISTS <table>.
func DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
}

// CreateIndex renders CREATE INDEX IF NOT EXISTS <name> ON <table>(<cols...>).
func CreateIndex(name, table string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", name, table, strings.Join(columns, ", "))
}

// DropIndex renders DROP INDEX IF EXISTS <name>.
func DropIndex(name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", name)
}

// Insert renders INSERT INTO <table>(f1,f2,...) VALUES(:f1,:f2,...).
func Insert(table string, fields []string) string {
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		placeholders[i] = ":" + f
	}
	return fmt.Sprintf("INSERT INTO %s(%s) VALUES(%s)", table, strings.Join(fields, ", "), strings.Join(placeholders, ", "))
}

// Update renders UPDATE <table> SET f=:f,... [WHERE <where>].
func Update(table string, fields []string, where string) string {
	sets := make([]string, len(fields))
	for i, f := range fields {
		sets[i] = fmt.Sprintf("%s = :%s", f, f)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if where != "" {
		sql += " WHERE " + where
	}
	return sql
}

// Delete renders DELETE FROM <table> [WHERE <where>].
func Delete(table string, where string) string {
	sql := "DELETE FROM " + table
	if where != "" {
		sql += " WHERE " + where
	}
	return sql
}

// FieldOrder is a single ORDER BY term.
type FieldOrder struct {
	Field string
	Desc  bool
}

// SelectOption parameterizes Select. Fields defaults to ["*"] when empty.
// Limit is omitted entirely when Length is 0.
type SelectOption struct {
	Table       string
	Fields      []string
	Where       string
	FieldOrders []FieldOrder
	LimitOffset int
	LimitLength int
	GroupBy     []string
	Distinct    bool
}

// Select renders a SELECT statement from opt.
func Select(opt SelectOption) string {
	fields := opt.Fields
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if opt.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(opt.Table)
	if opt.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(opt.Where)
	}
	if len(opt.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(opt.GroupBy, ", "))
	}
	if len(opt.FieldOrders) > 0 {
		terms := make([]string, len(opt.FieldOrders))
		for i, fo := range opt.FieldOrders {
			if fo.Desc {
				terms[i] = fo.Field + " DESC"
			} else {
				terms[i] = fo.Field + " ASC"
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}
	if opt.LimitLength != 0 {
		fmt.Fprintf(&b, " LIMIT %d,%d", opt.LimitOffset, opt.LimitLength)
	}
	return b.String()
}

// InExprSelect renders "<field> IN (<subquery>)" against a correlated
// SELECT rather than a literal value list.
func InExprSelect(field string, subquery string) string {
	return fmt.Sprintf("%s IN (%s)", field, subquery)
}

// InExprValues renders "<field> IN (v1,v2,...)" from pre-literalized SQL
// tokens (the caller is responsible for producing safe literals, e.g. via
// model.Value.Literal, or for preferring bind parameters for text/blob).
func InExprValues(field string, literals []string) string {
	if len(literals) == 0 {
		return field + " IN (NULL)"
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(literals, ","))
}

// InExprIntegerSet renders "<field> IN (i1,i2,...)" from a set of int64s.
func InExprIntegerSet(field string, ids []int64) string {
	if len(ids) == 0 {
		return field + " IN (NULL)"
	}
	parts := make([]string, len(ids))
	for i, v := range ids {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(parts, ","))
}
