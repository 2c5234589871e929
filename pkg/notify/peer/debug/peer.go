// Package debug provides a notification peer that logs instead of publishing.
package debug

import (
	"log"

	"github.com/edgeloop/itemd/pkg/notify"
)

// PeerDebug logs each notification to the console.
type PeerDebug struct{}

func (p *PeerDebug) Pub(n notify.Notification) error {
	body, err := n.Body()
	if err != nil {
		return err
	}
	log.Printf("%s %s\n%s", notify.ConnectorDebug, n.Subject(), body)
	return nil
}

func (p *PeerDebug) Connect(_ map[string]any) error {
	return nil
}

func (p *PeerDebug) Disconnect() error {
	return nil
}

func init() {
	notify.RegisterConnector(notify.ConnectorDebug, &PeerDebug{})
}
