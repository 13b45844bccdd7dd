package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column is one inferred destination column.
type Column struct {
	Name string
	Type string
}

const (
	minVarchar = 50
	maxVarchar = 255
)

// Infer maps dataset values to destination column types: strings to a bounded
// VARCHAR, integral numbers to INT, fractional numbers to DECIMAL(10,2),
// timestamps to DATETIME, anything else to TEXT. Columns are emitted in
// lexicographic order so the generated DDL is deterministic.
func Infer(rows []map[string]any) []Column {
	names := make(map[string]struct{})
	for _, row := range rows {
		for name := range row {
			names[name] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	columns := make([]Column, 0, len(sorted))
	for _, name := range sorted {
		columns = append(columns, Column{Name: name, Type: inferType(rows, name)})
	}
	return columns
}

func inferType(rows []map[string]any, name string) string {
	var (
		maxLen   int
		seen     int
		isString = true
		isInt    = true
		isFloat  = true
		isTime   = true
	)

	for _, row := range rows {
		value, ok := row[name]
		if !ok || value == nil {
			continue
		}
		seen++

		if s := fmt.Sprintf("%v", value); len(s) > maxLen {
			maxLen = len(s)
		}

		switch v := value.(type) {
		case string:
			isInt, isFloat, isTime = false, false, false
		case float64:
			isString, isTime = false, false
			if v != float64(int64(v)) {
				isInt = false
			}
		case int, int64:
			isString, isTime = false, false
		case time.Time:
			isString, isInt, isFloat = false, false, false
		default:
			isString, isInt, isFloat, isTime = false, false, false, false
		}
	}

	switch {
	case seen == 0:
		return "TEXT"
	case isTime:
		return "DATETIME"
	case isInt:
		return "INT"
	case isFloat:
		return "DECIMAL(10,2)"
	case isString:
		n := maxLen
		if n < minVarchar {
			n = minVarchar
		}
		if n > maxVarchar {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", n)
	default:
		return "TEXT"
	}
}

// CreateTableSQL renders the destination table script, surrogate key included.
func CreateTableSQL(table string, columns []Column) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- Create %s table\n", table)
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS `%s` (\n", table)
	b.WriteString("    id INT AUTO_INCREMENT PRIMARY KEY")
	for _, col := range columns {
		fmt.Fprintf(&b, ",\n    %s %s", col.Name, col.Type)
	}
	b.WriteString("\n);\n")

	return b.String()
}
