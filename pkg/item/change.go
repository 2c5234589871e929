package item

// Op classifies a change-log record by the kind of mutation that produced it.
type Op string

const (
	OpInsert Op = "INSERT"
	OpModify Op = "MODIFY"
	OpRemove Op = "REMOVE"
)

// Change is one committed mutation as recorded in the change log. Before and
// After carry the item images around the mutation: INSERT has only After,
// REMOVE only Before, MODIFY both.
type Change struct {
	Op     Op     `json:"op"`
	Before Item   `json:"before,omitempty"`
	After  Item   `json:"after,omitempty"`
	// Seq is the log position assigned when the record was appended. Opaque to
	// consumers; used for acknowledgement.
	Seq string `json:"seq,omitempty"`
}

// Key returns the id of the item the change refers to.
func (c Change) Key() string {
	if id := c.After.ID(); id != "" {
		return id
	}
	return c.Before.ID()
}

// Inserted builds an INSERT change record.
func Inserted(after Item) Change {
	return Change{Op: OpInsert, After: after}
}

// Modified builds a MODIFY change record.
func Modified(before, after Item) Change {
	return Change{Op: OpModify, Before: before, After: after}
}

// Removed builds a REMOVE change record.
func Removed(before Item) Change {
	return Change{Op: OpRemove, Before: before}
}
