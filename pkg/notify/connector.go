package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// A Connector delivers notifications to one kind of messaging endpoint.
type Connector interface {
	// Connect initializes the connector with the connector-specific settings
	// from the peer's config block.
	Connect(config map[string]any) error

	// Pub publishes one notification. It returns an error if delivery to the
	// endpoint fails; the caller decides what a failure means for the batch.
	Pub(n Notification) error

	Disconnect() error
}

// Predefined connectors
const (
	ConnectorDebug = "debug"
	ConnectorKafka = "kafka"
	ConnectorMQTT  = "mqtt"
	ConnectorNATS  = "nats"
)

var connectors = make(map[string]Connector)

// RegisterConnector adds a connector to the registry. Connector packages call
// this from init; importing a peer package for side effects makes it
// available by name.
func RegisterConnector(name string, c Connector) {
	connectors[name] = c
}

// Peer is a configured notification endpoint: a connector name plus the
// connector-specific settings from the config file.
type Peer struct {
	ConnectorName string         `mapstructure:"connector"`
	Config        map[string]any `mapstructure:"config"`
}

// WithDefaults returns a copy of the peer whose config gains the given keys
// where the peer does not set them itself. Key comparison is
// case-insensitive because viper lowercases config keys. Empty default
// values are ignored.
func (p Peer) WithDefaults(defaults map[string]any) Peer {
	out := Peer{
		ConnectorName: p.ConnectorName,
		Config:        make(map[string]any, len(p.Config)+len(defaults)),
	}
	for k, v := range p.Config {
		out.Config[k] = v
	}
	for k, v := range defaults {
		if v == nil || v == "" {
			continue
		}
		if !hasKeyFold(out.Config, k) {
			out.Config[k] = v
		}
	}
	return out
}

func hasKeyFold(m map[string]any, key string) bool {
	for k := range m {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// Manager resolves and connects the configured peer.
type Manager struct {
	logger *zap.Logger
}

// NewManager returns a Manager logging through the given logger.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Manager{logger: logger}
}

// Connect looks up the peer's connector and establishes its connection,
// retrying with exponential backoff while the endpoint is unavailable.
func (m *Manager) Connect(peer Peer) (Connector, error) {
	c, ok := connectors[peer.ConnectorName]
	if !ok {
		return nil, fmt.Errorf("connector %s not found", peer.ConnectorName)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err := backoff.RetryNotify(
		func() error { return c.Connect(peer.Config) },
		policy,
		func(err error, delay time.Duration) {
			m.logger.Warn("retrying connector connection",
				zap.String("connector", peer.ConnectorName),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", peer.ConnectorName, err)
	}

	m.logger.Info("connected notification peer", zap.String("connector", peer.ConnectorName))
	return c, nil
}

// DecodePeerConfig decodes a peer's raw config block into a typed connector
// config struct. Key matching is case-insensitive, so lowercased keys from
// viper land in the right fields.
func DecodePeerConfig(config map[string]any, target any) error {
	if err := mapstructure.Decode(config, target); err != nil {
		return fmt.Errorf("decode peer config: %w", err)
	}
	return nil
}
