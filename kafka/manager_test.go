package kafka

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"mclink/config"
)

// TestManager_ChangeDetection tests that duplicate values are not republished.
func TestManager_ChangeDetection(t *testing.T) {
	t.Run("identical values should not republish", func(t *testing.T) {
		m := newTestManager()

		// First publish sets the value
		m.updateLastValue("cluster/plc1/tag1", int32(100))

		// Check if value would be republished
		shouldPublish := m.shouldPublish("cluster/plc1/tag1", int32(100), false)
		if shouldPublish {
			t.Error("identical value should not republish")
		}
	})

	t.Run("different values should republish", func(t *testing.T) {
		m := newTestManager()

		// First publish
		m.updateLastValue("cluster/plc1/tag1", int32(100))

		// Different value should republish
		shouldPublish := m.shouldPublish("cluster/plc1/tag1", int32(200), false)
		if !shouldPublish {
			t.Error("different value should republish")
		}
	})

	t.Run("force flag should override change detection", func(t *testing.T) {
		m := newTestManager()

		// First publish
		m.updateLastValue("cluster/plc1/tag1", int32(100))

		// Same value with force flag should republish
		shouldPublish := m.shouldPublish("cluster/plc1/tag1", int32(100), true)
		if !shouldPublish {
			t.Error("force flag should override change detection")
		}
	})

	t.Run("different clusters are tracked separately", func(t *testing.T) {
		m := newTestManager()

		// Set value for cluster1
		m.updateLastValue("cluster1/plc1/tag1", int32(100))

		// Same tag/value on different cluster should publish
		shouldPublish := m.shouldPublish("cluster2/plc1/tag1", int32(100), false)
		if !shouldPublish {
			t.Error("different clusters should be tracked separately")
		}
	})
}

// TestManager_ChangeDetectionTypes tests change detection across different data types.
func TestManager_ChangeDetectionTypes(t *testing.T) {
	tests := []struct {
		name      string
		value1    interface{}
		value2    interface{}
		shouldPub bool
		desc      string
	}{
		// Integer types
		{"int32_same", int32(100), int32(100), false, "same int32"},
		{"int32_diff", int32(100), int32(200), true, "different int32"},

		// Float types
		{"float32_same", float32(3.14), float32(3.14), false, "same float32"},
		{"float32_diff", float32(3.14), float32(2.71), true, "different float32"},

		// Boolean types
		{"bool_same", true, true, false, "same bool"},
		{"bool_diff", true, false, true, "different bool"},

		// String types
		{"string_same", "hello", "hello", false, "same string"},
		{"string_diff", "hello", "world", true, "different string"},

		// Nil handling
		{"nil_to_value", nil, int32(0), true, "nil to value"},
		{"value_to_nil", int32(0), nil, true, "value to nil"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager()

			// First value
			if tc.value1 != nil {
				m.updateLastValue("cluster/plc/tag", tc.value1)
			}

			// Second value
			shouldPublish := m.shouldPublish("cluster/plc/tag", tc.value2, false)

			if shouldPublish != tc.shouldPub {
				t.Errorf("%s: expected publish=%v, got %v", tc.desc, tc.shouldPub, shouldPublish)
			}
		})
	}
}

// TestTagMessage_ValueAccuracy tests that published values match source values.
func TestTagMessage_ValueAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		value    interface{}
	}{
		{"int32_max", "DINT", int32(2147483647)},
		{"int32_min", "DINT", int32(-2147483648)},
		{"int16_max", "INT", int16(32767)},
		{"float64_precise", "LREAL", float64(3.141592653589793)},
		{"bool_true", "BOOL", true},
		{"string_unicode", "STRING", "测试数据"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := TagMessage{
				PLC:       "test",
				Tag:       "tag",
				Value:     tc.value,
				Type:      tc.typeName,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("marshal error: %v", err)
			}

			var decoded TagMessage
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}

			// Verify value accuracy
			switch v := tc.value.(type) {
			case int32:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case int16:
				if decoded.Value.(float64) != float64(v) {
					t.Errorf("value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case float64:
				if decoded.Value.(float64) != v {
					t.Errorf("value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case bool:
				if decoded.Value.(bool) != v {
					t.Errorf("value mismatch: expected %v, got %v", v, decoded.Value)
				}
			case string:
				if decoded.Value.(string) != v {
					t.Errorf("value mismatch: expected %q, got %q", v, decoded.Value)
				}
			}
		})
	}
}

// TestManager_ConcurrentPublish tests thread safety of publish operations.
func TestManager_ConcurrentPublish(t *testing.T) {
	m := newTestManager()

	var wg sync.WaitGroup
	publishCount := 100
	clusters := []string{"cluster1", "cluster2"}
	plcs := []string{"plc1", "plc2", "plc3"}
	tags := []string{"tag1", "tag2", "tag3"}

	for i := 0; i < publishCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cluster := clusters[i%len(clusters)]
			plc := plcs[i%len(plcs)]
			tag := tags[i%len(tags)]
			key := cluster + "/" + plc + "/" + tag
			m.updateLastValue(key, int32(i))
		}(i)
	}

	wg.Wait()

	m.lastMu.RLock()
	defer m.lastMu.RUnlock()

	if len(m.lastValues) == 0 {
		t.Error("expected some cache entries")
	}
	if len(m.lastValues) > publishCount {
		t.Errorf("unexpected cache size: %d > %d", len(m.lastValues), publishCount)
	}
}

// TestManager_ClearLastValues tests that clearing the cache forces republish.
func TestManager_ClearLastValues(t *testing.T) {
	m := newTestManager()

	// Add some values
	m.updateLastValue("cluster/plc1/tag1", int32(100))
	m.updateLastValue("cluster/plc1/tag2", int32(200))

	// Verify values exist
	m.lastMu.RLock()
	if len(m.lastValues) != 2 {
		t.Errorf("expected 2 cached values, got %d", len(m.lastValues))
	}
	m.lastMu.RUnlock()

	// Clear cache
	m.ClearLastValues()

	// Verify cache is empty
	m.lastMu.RLock()
	if len(m.lastValues) != 0 {
		t.Errorf("expected 0 cached values after clear, got %d", len(m.lastValues))
	}
	m.lastMu.RUnlock()

	// Now same value should publish again
	shouldPublish := m.shouldPublish("cluster/plc1/tag1", int32(100), false)
	if !shouldPublish {
		t.Error("value should publish after cache clear")
	}
}

// TestConfigFrom tests the conversion from persisted to runtime configuration.
func TestConfigFrom(t *testing.T) {
	t.Run("defaults applied for zero values", func(t *testing.T) {
		m := NewManager("mclink")
		defer m.StopAll()

		rc := m.configFrom(&config.KafkaConfig{Name: "prod"})

		if rc.Name != "prod" {
			t.Errorf("expected name 'prod', got %q", rc.Name)
		}
		if len(rc.Brokers) != 1 || rc.Brokers[0] != "localhost:9092" {
			t.Errorf("expected default broker, got %v", rc.Brokers)
		}
		if rc.RequiredAcks != -1 {
			t.Errorf("expected required acks -1, got %d", rc.RequiredAcks)
		}
		if rc.MaxRetries != 3 {
			t.Errorf("expected max retries 3, got %d", rc.MaxRetries)
		}
		if !rc.AutoCreateTopics {
			t.Error("auto-create topics should default to true")
		}
		if rc.Topic != "mclink" {
			t.Errorf("expected topic 'mclink', got %q", rc.Topic)
		}
	})

	t.Run("selector extends the base topic", func(t *testing.T) {
		m := NewManager("mclink")
		defer m.StopAll()

		rc := m.configFrom(&config.KafkaConfig{Name: "prod", Selector: "line2"})
		if rc.Topic != "mclink.line2" {
			t.Errorf("expected topic 'mclink.line2', got %q", rc.Topic)
		}
		if got := rc.TagTopic(); got != "mclink.line2.tags" {
			t.Errorf("unexpected tag topic %q", got)
		}
		if got := rc.HealthTopic(); got != "mclink.line2.health" {
			t.Errorf("unexpected health topic %q", got)
		}
		if got := rc.WriteTopic(); got != "mclink.line2.writes" {
			t.Errorf("unexpected write topic %q", got)
		}
		if got := rc.WriteResponseTopic(); got != "mclink.line2.writes.responses" {
			t.Errorf("unexpected response topic %q", got)
		}
	})

	t.Run("explicit settings preserved", func(t *testing.T) {
		m := NewManager("mclink")
		defer m.StopAll()

		no := false
		rc := m.configFrom(&config.KafkaConfig{
			Name:             "prod",
			Brokers:          []string{"k1:9092", "k2:9092"},
			SASLMechanism:    "SCRAM-SHA-256",
			Username:         "svc",
			Password:         "secret",
			RequiredAcks:     1,
			MaxRetries:       5,
			RetryBackoff:     250 * time.Millisecond,
			AutoCreateTopics: &no,
			EnableWriteback:  true,
			WriteMaxAge:      30 * time.Second,
		})

		if len(rc.Brokers) != 2 {
			t.Errorf("expected 2 brokers, got %v", rc.Brokers)
		}
		if rc.SASLMechanism != SASLSCRAMSHA256 {
			t.Errorf("unexpected SASL mechanism %q", rc.SASLMechanism)
		}
		if rc.RequiredAcks != 1 || rc.MaxRetries != 5 || rc.RetryBackoff != 250*time.Millisecond {
			t.Error("producer settings not preserved")
		}
		if rc.AutoCreateTopics {
			t.Error("auto-create topics should be disabled")
		}
		if !rc.EnableWriteback {
			t.Error("writeback should be enabled")
		}
		if rc.GetWriteMaxAge() != 30*time.Second {
			t.Errorf("unexpected write max age %v", rc.GetWriteMaxAge())
		}
		if rc.GetConsumerGroup() != "prod-writes" {
			t.Errorf("unexpected consumer group %q", rc.GetConsumerGroup())
		}
	})
}

// TestManager_Clusters tests cluster registration and lookup.
func TestManager_Clusters(t *testing.T) {
	m := NewManager("mclink")
	defer m.StopAll()

	m.LoadFromConfig([]config.KafkaConfig{
		{Name: "prod", Brokers: []string{"k1:9092"}},
		{Name: "dr", Brokers: []string{"k2:9092"}, EnableWriteback: true},
	})

	if len(m.ListClusters()) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(m.ListClusters()))
	}
	if m.GetProducer("prod") == nil {
		t.Error("expected producer for prod")
	}
	if m.GetProducer("missing") != nil {
		t.Error("expected nil producer for unknown cluster")
	}

	// Writeback consumer created only where enabled
	m.mu.RLock()
	_, prodHas := m.consumers["prod"]
	_, drHas := m.consumers["dr"]
	m.mu.RUnlock()
	if prodHas {
		t.Error("prod should not have a writeback consumer")
	}
	if !drHas {
		t.Error("dr should have a writeback consumer")
	}

	status, _ := m.GetClusterStatus("prod")
	if status != StatusDisconnected {
		t.Errorf("expected disconnected status, got %v", status)
	}
	if _, err := m.GetClusterStatus("missing"); err == nil {
		t.Error("expected error for unknown cluster")
	}

	m.RemoveCluster("dr")
	if len(m.ListClusters()) != 1 {
		t.Errorf("expected 1 cluster after remove, got %d", len(m.ListClusters()))
	}
}

// TestJoinTopic tests topic segment joining.
func TestJoinTopic(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"namespace_only", []string{"mclink", ""}, "mclink"},
		{"with_selector", []string{"mclink", "line2"}, "mclink.line2"},
		{"trims_dots", []string{".mclink.", "line2"}, "mclink.line2"},
		{"all_empty", []string{"", ""}, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := joinTopic(tc.parts...); got != tc.want {
				t.Errorf("joinTopic(%v) = %q, want %q", tc.parts, got, tc.want)
			}
		})
	}
}

// Helper functions for testing

func newTestManager() *Manager {
	return &Manager{
		producers:    make(map[string]*Producer),
		consumers:    make(map[string]*Consumer),
		lastValues:   make(map[string]interface{}),
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
}

// updateLastValue is a test helper to update the cache directly.
func (m *Manager) updateLastValue(key string, value interface{}) {
	m.lastMu.Lock()
	m.lastValues[key] = value
	m.lastMu.Unlock()
}

// shouldPublish is a test helper to check if a value should be published.
func (m *Manager) shouldPublish(cacheKey string, value interface{}, force bool) bool {
	m.lastMu.RLock()
	lastValue, exists := m.lastValues[cacheKey]
	m.lastMu.RUnlock()

	if !exists {
		return true
	}
	if force {
		return true
	}
	return fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)
}
