// Package item defines the schema-flexible Item record and the partial-update
// algorithm shared by every store backend.
package item

import (
	"time"

	"github.com/google/uuid"
)

// Well-known field names. Everything else on an Item is an open attribute and
// is stored and returned verbatim.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

// Item is a single record. The map form is the representation: clients may
// attach arbitrary key/value pairs beyond the well-known fields.
type Item map[string]any

// ID returns the item's id, or "" if unset.
func (it Item) ID() string {
	id, _ := it[FieldID].(string)
	return id
}

// Name returns the item's name, or "" if unset.
func (it Item) Name() string {
	name, _ := it[FieldName].(string)
	return name
}

// UpdatedAt returns the raw updatedAt value, or "" if unset.
func (it Item) UpdatedAt() string {
	ts, _ := it[FieldUpdatedAt].(string)
	return ts
}

// Clone returns a shallow copy. Values are not deep-copied; callers treat
// attribute values as immutable.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

// Timestamp formats t the way item timestamps are stored: RFC 3339 in UTC,
// millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// New builds a fresh item from a creation payload. The server owns id,
// createdAt and updatedAt; client-supplied values for those fields are
// overwritten. All other payload fields are kept as-is.
func New(payload Item, now time.Time) Item {
	it := payload.Clone()
	if it == nil {
		it = Item{}
	}
	ts := Timestamp(now)
	it[FieldID] = uuid.NewString()
	it[FieldCreatedAt] = ts
	it[FieldUpdatedAt] = ts
	return it
}

// Patch computes the exact set of fields an update must write: every key
// present in the payload except id and createdAt, plus a forced updatedAt
// stamp. Fields absent from the payload are not part of the patch and must be
// left untouched by the backend.
func Patch(payload Item, now time.Time) Item {
	patch := make(Item, len(payload)+1)
	for k, v := range payload {
		if k == FieldID || k == FieldCreatedAt {
			continue
		}
		patch[k] = v
	}
	patch[FieldUpdatedAt] = Timestamp(now)
	return patch
}

// Merge overlays patch onto base and returns the merged record. Base is not
// modified. This is the in-memory counterpart of the backends' update-in-place
// primitives and must agree with them.
func Merge(base, patch Item) Item {
	out := base.Clone()
	if out == nil {
		out = Item{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
