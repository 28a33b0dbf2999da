package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"mclink/config"
	"mclink/mc"
)

// TestChangeDetectionLogic tests the core change detection logic directly.
func TestChangeDetectionLogic(t *testing.T) {
	t.Run("identical values should not republish", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int32(100)

		cacheKey := "plc1/tag1"
		value := int32(100)
		force := false

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if shouldPublish {
			t.Error("identical value should not republish")
		}
	})

	t.Run("different values should republish", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int32(100)

		cacheKey := "plc1/tag1"
		value := int32(200)
		force := false

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if !shouldPublish {
			t.Error("different value should republish")
		}
	})

	t.Run("force flag should override change detection", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int32(100)

		cacheKey := "plc1/tag1"
		value := int32(100)
		force := true

		lastValue, exists := cache[cacheKey]
		shouldPublish := !exists || force || fmt.Sprintf("%v", lastValue) != fmt.Sprintf("%v", value)

		if !shouldPublish {
			t.Error("force flag should override change detection")
		}
	})

	t.Run("new key should always publish", func(t *testing.T) {
		cache := make(map[string]interface{})

		cacheKey := "plc1/tag1"
		force := false

		_, exists := cache[cacheKey]
		shouldPublish := !exists || force

		if !shouldPublish {
			t.Error("new key should always publish")
		}
	})

	t.Run("different PLCs are tracked separately", func(t *testing.T) {
		cache := make(map[string]interface{})
		cache["plc1/tag1"] = int32(100)

		cacheKey := "plc2/tag1"

		_, exists := cache[cacheKey]
		if exists {
			t.Error("different PLCs should be tracked separately")
		}
	})
}

// TestPublisher_MessagePayload tests that the JSON message payload is correct.
func TestPublisher_MessagePayload(t *testing.T) {
	msg := TagMessage{
		Topic:     "mclink",
		PLC:       "press1",
		Tag:       "temp",
		Value:     int16(100),
		Type:      "INT",
		Writable:  true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	requiredFields := []string{"topic", "plc", "tag", "value", "type", "writable", "timestamp"}
	for _, field := range requiredFields {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
	if decoded["plc"] != "press1" || decoded["tag"] != "temp" {
		t.Errorf("wrong identity fields: %v", decoded)
	}
}

// TestConcurrentCacheAccess tests thread safety of cache operations.
func TestConcurrentCacheAccess(t *testing.T) {
	cache := make(map[string]interface{})
	var mu sync.RWMutex

	var wg sync.WaitGroup
	plcs := []string{"plc1", "plc2", "plc3"}
	tags := []string{"tag1", "tag2", "tag3"}

	for _, plc := range plcs {
		for _, tag := range tags {
			wg.Add(1)
			go func(plc, tag string) {
				defer wg.Done()
				key := fmt.Sprintf("%s/%s", plc, tag)

				mu.Lock()
				cache[key] = int32(100)
				mu.Unlock()
			}(plc, tag)
		}
	}

	wg.Wait()

	mu.RLock()
	defer mu.RUnlock()

	expectedKeys := len(plcs) * len(tags)
	if len(cache) != expectedKeys {
		t.Errorf("expected %d cache entries, got %d", expectedKeys, len(cache))
	}
}

// TestConvertValueForType tests type conversion for write operations.
func TestConvertValueForType(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		dataType uint16
		expected interface{}
		hasError bool
	}{
		// BOOL conversions
		{"bool_true", true, mc.TypeBool, true, false},
		{"bool_false", false, mc.TypeBool, false, false},
		{"num_to_bool_1", float64(1), mc.TypeBool, true, false},
		{"num_to_bool_0", float64(0), mc.TypeBool, false, false},

		// INT (int16) conversions
		{"int_valid", float64(1000), mc.TypeInt16, int16(1000), false},
		{"int_min", float64(-32768), mc.TypeInt16, int16(-32768), false},
		{"int_max", float64(32767), mc.TypeInt16, int16(32767), false},
		{"int_overflow", float64(32768), mc.TypeInt16, nil, true},
		{"int_fractional", float64(1.5), mc.TypeInt16, nil, true},

		// DINT (int32) conversions
		{"dint_valid", float64(100000), mc.TypeInt32, int32(100000), false},
		{"dint_negative", float64(-100000), mc.TypeInt32, int32(-100000), false},

		// LINT (int64) conversions
		{"lint_valid", float64(1 << 40), mc.TypeInt64, int64(1 << 40), false},

		// REAL (float32) conversions
		{"real_valid", float64(3.14), mc.TypeReal, float32(3.14), false},

		// LREAL (float64) conversions
		{"lreal_valid", float64(3.14159265359), mc.TypeLReal, float64(3.14159265359), false},

		// BYTE (uint8) conversions
		{"byte_valid", float64(200), mc.TypeByte, uint8(200), false},
		{"byte_max", float64(255), mc.TypeByte, uint8(255), false},
		{"byte_overflow", float64(256), mc.TypeByte, nil, true},
		{"byte_negative", float64(-1), mc.TypeByte, nil, true},

		// WORD (uint16) conversions
		{"word_valid", float64(50000), mc.TypeWord, uint16(50000), false},
		{"word_max", float64(65535), mc.TypeWord, uint16(65535), false},
		{"word_overflow", float64(65536), mc.TypeWord, nil, true},

		// DWORD (uint32) conversions
		{"dword_valid", float64(4000000000), mc.TypeDWord, uint32(4000000000), false},
		{"dword_negative", float64(-1), mc.TypeDWord, nil, true},

		// Array flag is masked off before conversion
		{"array_int", float64(7), mc.MakeArrayType(mc.TypeInt16), int16(7), false},

		// STRING conversions
		{"string_valid", "hello", mc.TypeString, "hello", false},
		{"string_from_num", float64(123), mc.TypeString, nil, true},

		// Unknown types: strings pass through, whole numbers become int32
		{"unknown_string", "test", mc.TypeUnknown, "test", false},
		{"unknown_number", float64(42), mc.TypeUnknown, int32(42), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := convertValueForType(tc.value, tc.dataType)

			if tc.hasError {
				if err == nil {
					t.Errorf("expected error for %s", tc.name)
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if fmt.Sprintf("%T %v", result, result) != fmt.Sprintf("%T %v", tc.expected, tc.expected) {
				t.Errorf("expected %v (%T), got %v (%T)", tc.expected, tc.expected, result, result)
			}
		})
	}
}

// TestPublisher_NewPublisher tests publisher creation.
func TestPublisher_NewPublisher(t *testing.T) {
	cfg := &config.MQTTConfig{
		Name:    "test",
		Broker:  "localhost",
		Port:    1883,
		Enabled: true,
	}
	pub := NewPublisher(cfg, "mclink")

	if pub == nil {
		t.Fatal("expected non-nil publisher")
	}
	if pub.Name() != "test" {
		t.Errorf("expected name 'test', got %q", pub.Name())
	}
	if pub.IsRunning() {
		t.Error("new publisher should not be running")
	}
}

// TestPublisher_Topics tests topic construction.
func TestPublisher_Topics(t *testing.T) {
	t.Run("namespace only", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Name: "a"}, "mclink")
		if got := pub.RootTopic(); got != "mclink" {
			t.Errorf("RootTopic = %q", got)
		}
		if got := pub.BuildTopic("press1", "temp"); got != "mclink/press1/tags/temp" {
			t.Errorf("BuildTopic = %q", got)
		}
	})

	t.Run("selector sub-namespace", func(t *testing.T) {
		pub := NewPublisher(&config.MQTTConfig{Name: "a", Selector: "line2"}, "mclink")
		if got := pub.RootTopic(); got != "mclink/line2" {
			t.Errorf("RootTopic = %q", got)
		}
		if got := pub.BuildTopic("press1", "temp"); got != "mclink/line2/press1/tags/temp" {
			t.Errorf("BuildTopic = %q", got)
		}
	})
}

// TestPublisher_Address tests address formatting.
func TestPublisher_Address(t *testing.T) {
	t.Run("tcp address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   1883,
			UseTLS: false,
		}
		pub := NewPublisher(cfg, "test")
		addr := pub.Address()

		if addr != "tcp://localhost:1883" {
			t.Errorf("expected 'tcp://localhost:1883', got %q", addr)
		}
	})

	t.Run("ssl address", func(t *testing.T) {
		cfg := &config.MQTTConfig{
			Broker: "localhost",
			Port:   8883,
			UseTLS: true,
		}
		pub := NewPublisher(cfg, "test")
		addr := pub.Address()

		if addr != "ssl://localhost:8883" {
			t.Errorf("expected 'ssl://localhost:8883', got %q", addr)
		}
	})
}

// TestManager_LoadFromConfig tests manager setup from configuration.
func TestManager_LoadFromConfig(t *testing.T) {
	mgr := NewManager("mclink")
	mgr.LoadFromConfig([]config.MQTTConfig{
		{Name: "primary", Broker: "broker1", Port: 1883},
		{Name: "backup", Broker: "broker2", Port: 1883, Selector: "dr"},
	})

	if len(mgr.List()) != 2 {
		t.Fatalf("expected 2 publishers, got %d", len(mgr.List()))
	}
	if mgr.Get("primary") == nil || mgr.Get("backup") == nil {
		t.Error("named publishers missing")
	}
	if got := mgr.Get("backup").RootTopic(); got != "mclink/dr" {
		t.Errorf("backup root topic = %q", got)
	}
	if mgr.AnyRunning() {
		t.Error("no publisher should be running before Start")
	}

	mgr.Remove("backup")
	if mgr.Get("backup") != nil {
		t.Error("backup still present after Remove")
	}
}
