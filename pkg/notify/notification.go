// Package notify turns change log records into typed notifications and
// publishes them to a messaging topic through pluggable connectors.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgeloop/itemd/pkg/item"
)

// Kind identifies the notification event type.
type Kind string

const (
	ItemCreated Kind = "ITEM_CREATED"
	ItemUpdated Kind = "ITEM_UPDATED"
	ItemDeleted Kind = "ITEM_DELETED"
)

// Notification is the envelope published for each processed mutation.
// ITEM_CREATED and ITEM_DELETED carry one item state; ITEM_UPDATED carries
// both states so downstream consumers can diff.
type Notification struct {
	Event       Kind      `json:"event"`
	Environment string    `json:"environment"`
	Item        item.Item `json:"item,omitempty"`
	OldItem     item.Item `json:"oldItem,omitempty"`
	NewItem     item.Item `json:"newItem,omitempty"`
	Timestamp   string    `json:"timestamp"`
}

// subjectVerb maps event kinds to the human-readable subject line verb.
var subjectVerb = map[Kind]string{
	ItemCreated: "New Item Created",
	ItemUpdated: "Item Updated",
	ItemDeleted: "Item Deleted",
}

// Subject renders the human-readable subject line, used by downstream systems
// as a dedup/triage key: "[env] New Item Created: <id>".
func (n Notification) Subject() string {
	return fmt.Sprintf("[%s] %s: %s", n.Environment, subjectVerb[n.Event], n.ItemID())
}

// ItemID returns the id of the item the notification refers to.
func (n Notification) ItemID() string {
	if id := n.Item.ID(); id != "" {
		return id
	}
	return n.NewItem.ID()
}

// Body serializes the envelope as indented JSON. Messages are read by humans
// as well as machines, so the body stays pretty-printed.
func (n Notification) Body() ([]byte, error) {
	return json.MarshalIndent(n, "", "  ")
}

// Classify builds the notification for a change record. The second return is
// false for unrecognized mutation kinds, which are deliberately skipped rather
// than treated as errors. Classification is a pure function of the record: the
// same record always yields the same envelope apart from the publish
// timestamp.
func Classify(change item.Change, environment string, now time.Time) (Notification, bool) {
	n := Notification{
		Environment: environment,
		Timestamp:   item.Timestamp(now),
	}
	switch change.Op {
	case item.OpInsert:
		n.Event = ItemCreated
		n.Item = change.After
	case item.OpModify:
		n.Event = ItemUpdated
		n.OldItem = change.Before
		n.NewItem = change.After
	case item.OpRemove:
		n.Event = ItemDeleted
		n.Item = change.Before
	default:
		return Notification{}, false
	}
	return n, true
}
