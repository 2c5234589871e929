package pg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/edgeloop/itemd/pkg/item"
)

const itemColumns = "id, name, description, price, created_at, updated_at, attrs"

const (
	selectQuery = "SELECT " + itemColumns + " FROM items"
	deleteQuery = "DELETE FROM items WHERE id = $1 RETURNING " + itemColumns
)

// columnFor maps well-known item fields to their typed columns. Fields not
// listed here belong to the jsonb attrs column.
var columnFor = map[string]string{
	item.FieldName:        "name",
	item.FieldDescription: "description",
	item.FieldPrice:       "price",
	item.FieldUpdatedAt:   "updated_at",
}

// splitFields separates an item or patch into typed column values and open
// attributes. The id is handled separately by each statement builder.
func splitFields(it item.Item) (cols map[string]any, attrs map[string]any, err error) {
	cols = make(map[string]any)
	attrs = make(map[string]any)
	for k, v := range it {
		if k == item.FieldID {
			continue
		}
		if k == item.FieldCreatedAt || k == item.FieldUpdatedAt {
			ts, err := parseTimestamp(v)
			if err != nil {
				return nil, nil, fmt.Errorf("field %s: %w", k, err)
			}
			if k == item.FieldCreatedAt {
				cols["created_at"] = ts
			} else {
				cols["updated_at"] = ts
			}
			continue
		}
		if col, ok := columnFor[k]; ok {
			cols[col] = v
			continue
		}
		attrs[k] = v
	}
	return cols, attrs, nil
}

// buildInsert renders a full INSERT for a freshly-created item.
func buildInsert(it item.Item) (string, []any, error) {
	cols, attrs, err := splitFields(it)
	if err != nil {
		return "", nil, err
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return "", nil, fmt.Errorf("encode attrs: %w", err)
	}

	names := []string{"id"}
	args := []any{it.ID()}
	for _, col := range sortedKeys(cols) {
		names = append(names, col)
		args = append(args, cols[col])
	}
	names = append(names, "attrs")
	args = append(args, attrsJSON)

	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	// attrs placeholder needs the jsonb cast
	placeholders[len(placeholders)-1] += "::jsonb"

	query := fmt.Sprintf("INSERT INTO items (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return query, args, nil
}

// buildUpdate renders a single UPDATE for a patch: one SET clause per patched
// typed column, plus a jsonb merge for patched open attributes. Everything is
// applied in one statement, so the patch is atomic and columns outside it keep
// whatever value the row has at execution time.
func buildUpdate(id string, patch item.Item) (string, []any, error) {
	cols, attrs, err := splitFields(patch)
	if err != nil {
		return "", nil, err
	}

	sets := []string{}
	args := []any{id}
	for _, col := range sortedKeys(cols) {
		args = append(args, cols[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(attrs) > 0 {
		attrsJSON, err := json.Marshal(attrs)
		if err != nil {
			return "", nil, fmt.Errorf("encode attrs: %w", err)
		}
		args = append(args, attrsJSON)
		sets = append(sets, fmt.Sprintf("attrs = attrs || $%d::jsonb", len(args)))
	}

	query := fmt.Sprintf("UPDATE items SET %s WHERE id = $1 RETURNING %s",
		strings.Join(sets, ", "), itemColumns)
	return query, args, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseTimestamp(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp must be a string, got %T", v)
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}
