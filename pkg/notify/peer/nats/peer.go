// Package nats implements the NATS JetStream notification peer. Each
// notification is published on <prefix>.items.<event>, with the human-readable
// subject line carried in a message header so downstream consumers can triage
// without parsing the body.
package nats

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/edgeloop/itemd/pkg/notify"
)

// SubjectHeader is the message header carrying Notification.Subject().
const SubjectHeader = "Notification-Subject"

// PeerNATS publishes notifications to a NATS JetStream stream.
type PeerNATS struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	Config Config
}

var errConnNotInitialized = errors.New("NATS connection not initialized")

// Config represents NATS configuration
type Config struct {
	Servers     []string `mapstructure:"servers"`
	Stream      string   `mapstructure:"stream"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	TLS         struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		CAFile   string `mapstructure:"caFile"`
	} `mapstructure:"tls"`
}

// Connect establishes a connection to the NATS server and ensures the stream
// exists.
func (p *PeerNATS) Connect(config map[string]any) error {
	if err := notify.DecodePeerConfig(config, &p.Config); err != nil {
		return err
	}

	// Set defaults
	if len(p.Config.Servers) == 0 {
		p.Config.Servers = []string{nats.DefaultURL}
	}
	p.Config.TopicPrefix = cmp.Or(p.Config.TopicPrefix, "itemd")
	p.Config.Stream = cmp.Or(p.Config.Stream, fmt.Sprintf("%s-notifications", p.Config.TopicPrefix))

	opts := defaultOptions(p.Config)

	// Connect to first available server
	var err error
	for _, server := range p.Config.Servers {
		p.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if p.js, err = p.nc.JetStream(); err != nil {
		p.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := p.ensureStream(); err != nil {
		p.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

// Pub publishes one notification and waits for the JetStream ack.
func (p *PeerNATS) Pub(n notify.Notification) error {
	if p.js == nil {
		return errConnNotInitialized
	}

	body, err := n.Body()
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := nats.NewMsg(p.subjectFor(n))
	msg.Header.Set(SubjectHeader, n.Subject())
	msg.Data = body

	if _, err := p.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (p *PeerNATS) subjectFor(n notify.Notification) string {
	return fmt.Sprintf("%s.items.%s", p.Config.TopicPrefix, strings.ToLower(string(n.Event)))
}

// Disconnect closes the NATS connection.
func (p *PeerNATS) Disconnect() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// ensureStream creates or updates the stream.
func (p *PeerNATS) ensureStream() error {
	config := &nats.StreamConfig{
		Name:     p.Config.Stream,
		Subjects: []string{fmt.Sprintf("%s.>", p.Config.TopicPrefix)},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	stream, err := p.js.StreamInfo(p.Config.Stream)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = p.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
		}
		return nil
	}

	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := p.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// streamConfigEqual checks if two nats.StreamConfig are equivalent
func streamConfigEqual(a, b nats.StreamConfig) bool {
	if a.Name != b.Name || a.Storage != b.Storage || a.Replicas != b.Replicas {
		return false
	}
	if len(a.Subjects) != len(b.Subjects) {
		return false
	}
	for i := range a.Subjects {
		if a.Subjects[i] != b.Subjects[i] {
			return false
		}
	}
	return true
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		var tlsOpt nats.Option
		if c.TLS.CAFile != "" {
			tlsOpt = nats.RootCAs(c.TLS.CAFile)
		} else if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			tlsOpt = nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile)
		}
		if tlsOpt != nil {
			opts = append(opts, tlsOpt)
		}
	}

	return opts
}

func init() {
	notify.RegisterConnector(notify.ConnectorNATS, &PeerNATS{})
}
