// Package kafka publishes tag changes to Kafka clusters and optionally
// consumes write requests back from them.
package kafka

import (
	"crypto/tls"
	"strings"
	"time"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// Config holds the runtime configuration for one Kafka cluster connection.
// Topic is the base topic derived from the global namespace and the cluster
// selector; tag, health and write topics hang off it.
type Config struct {
	Name          string
	Enabled       bool
	Brokers       []string
	UseTLS        bool
	TLSSkipVerify bool
	SASLMechanism SASLMechanism
	Username      string
	Password      string

	// Producer settings
	RequiredAcks     int // -1=all, 0=none, 1=leader only
	MaxRetries       int
	RetryBackoff     time.Duration
	AutoCreateTopics bool

	// Tag publishing settings
	PublishChanges bool
	Topic          string

	// Writeback settings
	EnableWriteback bool
	ConsumerGroup   string
	WriteMaxAge     time.Duration
}

// DefaultConfig returns a Kafka configuration with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Enabled:          false,
		Brokers:          []string{"localhost:9092"},
		RequiredAcks:     -1, // All replicas must acknowledge
		MaxRetries:       3,
		RetryBackoff:     100 * time.Millisecond,
		AutoCreateTopics: true,
	}
}

// GetTLSConfig returns a TLS configuration if TLS is enabled.
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
}

// GetConsumerGroup returns the writeback consumer group, defaulting to
// "<cluster name>-writes".
func (c *Config) GetConsumerGroup() string {
	if c.ConsumerGroup != "" {
		return c.ConsumerGroup
	}
	return c.Name + "-writes"
}

// GetWriteMaxAge returns the maximum age of a write request before it is
// discarded as stale.
func (c *Config) GetWriteMaxAge() time.Duration {
	if c.WriteMaxAge > 0 {
		return c.WriteMaxAge
	}
	return 10 * time.Second
}

// TagTopic returns the topic tag changes are published to.
func (c *Config) TagTopic() string {
	return c.Topic + ".tags"
}

// HealthTopic returns the topic PLC health messages are published to.
func (c *Config) HealthTopic() string {
	return c.Topic + ".health"
}

// WriteTopic returns the topic write requests are consumed from.
func (c *Config) WriteTopic() string {
	return c.Topic + ".writes"
}

// WriteResponseTopic returns the topic write responses are published to.
func (c *Config) WriteResponseTopic() string {
	return c.Topic + ".writes.responses"
}

// joinTopic joins topic segments with dots, skipping empty parts.
func joinTopic(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}
