package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// snapshot is the in-memory copy of the settings table.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Pointer[snapshot]

func init() {
	current.Store(&snapshot{values: map[string]json.RawMessage{}})
}

// StoreDBConfig replaces the in-memory snapshot of DB-backed settings.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		next[key] = cloneRaw(v)
	}
	current.Store(&snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// DBConfigUpdatedAt returns the newest updated_at across loaded settings.
func DBConfigUpdatedAt() time.Time {
	return current.Load().updatedAt
}

// DBConfigValue returns a copy of the raw value for key.
func DBConfigValue(key string) (json.RawMessage, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := current.Load().values[key]
	if !ok {
		return nil, false
	}
	return cloneRaw(val), true
}

// DBConfigValues returns a copy of every loaded setting.
func DBConfigValues() map[string]json.RawMessage {
	snap := current.Load()
	out := make(map[string]json.RawMessage, len(snap.values))
	for k, v := range snap.values {
		out[k] = cloneRaw(v)
	}
	return out
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	copied := make([]byte, len(v))
	copy(copied, v)
	return copied
}
