// Package kafka implements the Kafka notification peer using a synchronous
// sarama producer. Messages are keyed by item id so per-item ordering is
// preserved within a partition.
package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/edgeloop/itemd/pkg/notify"
)

// PeerKafka publishes notifications to Kafka.
type PeerKafka struct {
	producer    sarama.SyncProducer
	config      *Config
	topicPrefix string
}

// Config represents Kafka configuration.
type Config struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	Version     string   `mapstructure:"version"`
	Partitions  int32    `mapstructure:"partitions"`
	Replicas    int16    `mapstructure:"replicas"`
	RetentionMS int64    `mapstructure:"retentionMs"`
	SASL        *SASL    `mapstructure:"sasl"`
}

// SASL holds optional SASL authentication settings.
type SASL struct {
	Enable    bool   `mapstructure:"enable"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Algorithm string `mapstructure:"algorithm"`
}

func (p *PeerKafka) Connect(config map[string]any) error {
	var cfg Config
	if err := notify.DecodePeerConfig(config, &cfg); err != nil {
		return err
	}

	// Set defaults if not provided
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "itemd"
	}
	if cfg.Version == "" {
		cfg.Version = "2.1.1"
	}
	if cfg.Partitions == 0 {
		cfg.Partitions = 1
	}
	if cfg.Replicas == 0 {
		cfg.Replicas = 1
	}
	if cfg.RetentionMS == 0 {
		cfg.RetentionMS = 7 * 24 * 60 * 60 * 1000 // 7 days
	}

	saramaConfig := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return fmt.Errorf("invalid Kafka version: %w", err)
	}
	saramaConfig.Version = version

	// Configure producer
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = time.Second
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	// Configure SASL if enabled
	if cfg.SASL != nil && cfg.SASL.Enable {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = cfg.SASL.Username
		saramaConfig.Net.SASL.Password = cfg.SASL.Password

		switch cfg.SASL.Algorithm {
		case "sha256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "sha512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p.producer = producer
	p.config = &cfg
	p.topicPrefix = cfg.TopicPrefix

	// Create admin client for topic management
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, saramaConfig)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create cluster admin: %w", err)
	}
	defer admin.Close()

	if err := p.ensureTopics(admin); err != nil {
		producer.Close()
		return fmt.Errorf("failed to ensure topics: %w", err)
	}

	return nil
}

// Pub publishes one notification, keyed by item id, and waits for the
// broker's ack.
func (p *PeerKafka) Pub(n notify.Notification) error {
	if p.producer == nil {
		return fmt.Errorf("Kafka producer not initialized")
	}

	body, err := n.Body()
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topicFor(n),
		Key:   sarama.StringEncoder(n.ItemID()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{{
			Key:   []byte("notification-subject"),
			Value: []byte(n.Subject()),
		}},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *PeerKafka) Disconnect() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func (p *PeerKafka) topicFor(n notify.Notification) string {
	return fmt.Sprintf("%s.items.%s", p.topicPrefix, strings.ToLower(string(n.Event)))
}

func (p *PeerKafka) ensureTopics(admin sarama.ClusterAdmin) error {
	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	retention := fmt.Sprintf("%d", p.config.RetentionMS)
	for _, kind := range []notify.Kind{notify.ItemCreated, notify.ItemUpdated, notify.ItemDeleted} {
		topic := p.topicFor(notify.Notification{Event: kind})
		if _, ok := existing[topic]; ok {
			continue
		}
		err := admin.CreateTopic(topic, &sarama.TopicDetail{
			NumPartitions:     p.config.Partitions,
			ReplicationFactor: p.config.Replicas,
			ConfigEntries:     map[string]*string{"retention.ms": &retention},
		}, false)
		if err != nil {
			if terr, ok := err.(*sarama.TopicError); ok && terr.Err == sarama.ErrTopicAlreadyExists {
				continue
			}
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
	}
	return nil
}

func init() {
	notify.RegisterConnector(notify.ConnectorKafka, &PeerKafka{})
}
