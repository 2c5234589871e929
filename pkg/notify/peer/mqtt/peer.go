// Package mqtt implements the MQTT notification peer. Notifications are
// published on <prefix>/items/<event>; MQTT 3.1 has no message headers, so the
// subject line is recoverable from the envelope body.
package mqtt

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeloop/itemd/pkg/notify"
)

// PeerMQTT publishes notifications to an MQTT broker.
type PeerMQTT struct {
	client mqtt.Client
	Config Config
}

// Config represents MQTT configuration.
type Config struct {
	Servers     []string `mapstructure:"servers"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	ClientID    string   `mapstructure:"clientID"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	QoS         byte     `mapstructure:"qos"`
}

func (p *PeerMQTT) Connect(config map[string]any) error {
	if err := notify.DecodePeerConfig(config, &p.Config); err != nil {
		return err
	}

	if len(p.Config.Servers) == 0 {
		p.Config.Servers = []string{"tcp://localhost:1883"}
	}
	p.Config.TopicPrefix = cmp.Or(p.Config.TopicPrefix, "itemd")
	p.Config.ClientID = cmp.Or(p.Config.ClientID, "itemd-notifier")

	opts := mqtt.NewClientOptions().
		SetClientID(p.Config.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetOrderMatters(true)
	for _, server := range p.Config.Servers {
		opts.AddBroker(server)
	}
	if p.Config.Username != "" {
		opts.SetUsername(p.Config.Username)
		opts.SetPassword(p.Config.Password)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Pub publishes one notification and waits for the broker's ack.
func (p *PeerMQTT) Pub(n notify.Notification) error {
	if p.client == nil {
		return fmt.Errorf("MQTT client not initialized")
	}

	body, err := n.Body()
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := fmt.Sprintf("%s/items/%s", p.Config.TopicPrefix, strings.ToLower(string(n.Event)))
	token := p.client.Publish(topic, p.Config.QoS, false, body)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *PeerMQTT) Disconnect() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}

func init() {
	notify.RegisterConnector(notify.ConnectorMQTT, &PeerMQTT{})
}
