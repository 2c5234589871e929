package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingConnector decodes its config block the way real peers do.
type recordingConnector struct {
	cfg struct {
		Brokers     []string `mapstructure:"brokers"`
		TopicPrefix string   `mapstructure:"topicPrefix"`
		QoS         byte     `mapstructure:"qos"`
	}
}

func (c *recordingConnector) Connect(config map[string]any) error {
	return DecodePeerConfig(config, &c.cfg)
}
func (c *recordingConnector) Pub(Notification) error { return nil }
func (c *recordingConnector) Disconnect() error      { return nil }

func TestManagerConnectDecodesPeerConfig(t *testing.T) {
	rc := &recordingConnector{}
	RegisterConnector("recording", rc)

	m := NewManager(zap.NewNop())
	sink, err := m.Connect(Peer{
		ConnectorName: "recording",
		Config: map[string]any{
			"brokers": []any{"localhost:9092"},
			// viper lowercases config keys; matching is case-insensitive
			"topicprefix": "orders",
			"qos":         1,
		},
	})
	require.NoError(t, err)
	assert.Same(t, rc, sink)
	assert.Equal(t, []string{"localhost:9092"}, rc.cfg.Brokers)
	assert.Equal(t, "orders", rc.cfg.TopicPrefix)
	assert.Equal(t, byte(1), rc.cfg.QoS)
}

func TestManagerConnectUnknownConnector(t *testing.T) {
	m := NewManager(zap.NewNop())
	_, err := m.Connect(Peer{ConnectorName: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPeerWithDefaults(t *testing.T) {
	p := Peer{ConnectorName: ConnectorNATS, Config: map[string]any{"topicprefix": "orders"}}

	out := p.WithDefaults(map[string]any{
		"topicPrefix": "items",
		"servers":     []string{"nats://localhost:4222"},
	})

	// a key set by the peer wins even when cased differently
	assert.Equal(t, "orders", out.Config["topicprefix"])
	assert.NotContains(t, out.Config, "topicPrefix")
	assert.Equal(t, []string{"nats://localhost:4222"}, out.Config["servers"])

	// the original peer is untouched
	assert.NotContains(t, p.Config, "servers")

	// empty defaults are not applied
	out2 := Peer{ConnectorName: ConnectorDebug}.WithDefaults(map[string]any{"topicPrefix": ""})
	assert.NotContains(t, out2.Config, "topicPrefix")
}
