package source

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Dataset is the row-oriented input of one reconciliation run.
type Dataset struct {
	Table string
	Rows  []map[string]any
}

// ReadError reports a dataset that cannot be read or parsed. The run aborts
// before any change log or snapshot write.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read dataset %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeColumn makes a column name SQL-friendly: lower-cased, runs of
// non-alphanumerics collapsed to underscores, leading digits prefixed.
func SanitizeColumn(name string) string {
	name = strings.ToLower(name)
	name = nonAlnum.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "col"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "col_" + name
	}
	return name
}

// ReadJSON loads rows from a JSON file holding either a top-level array of
// objects or an object wrapping a single array field (the attendee export
// shape, e.g. {"attendees": [...]}). Column names are sanitized on the way in.
func ReadJSON(path, table string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	for i, row := range rows {
		rows[i] = sanitizeRow(row)
	}

	return &Dataset{Table: table, Rows: rows}, nil
}

func decodeRows(raw []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err == nil {
		return rows, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("not a JSON array or object: %w", err)
	}

	// A single array-valued field holds the rows; pick deterministically if
	// the file carries several.
	keys := make([]string, 0, len(wrapper))
	for k := range wrapper {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var inner []map[string]any
		if err := json.Unmarshal(wrapper[key], &inner); err == nil {
			return inner, nil
		}
	}

	return nil, fmt.Errorf("no array of row objects found")
}

func sanitizeRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for name, value := range row {
		out[SanitizeColumn(name)] = value
	}
	return out
}
