package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// ErrNoDecoder is returned when a payload arrives for an event type and
// schema version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

type schemaKey struct {
	eventType enums.OutboxEventType
	version   int
}

type decodeFn func(json.RawMessage) (any, error)

// Decoders maps (event type, schema version) to a payload decoder. Consumers
// build one at startup and share it across goroutines.
type Decoders struct {
	mu  sync.RWMutex
	fns map[schemaKey]decodeFn
}

func NewDecoders() *Decoders {
	return &Decoders{fns: make(map[schemaKey]decodeFn)}
}

// RegisterJSON binds eventType@version to a strict JSON decode into T.
// Registering the same pair twice is an error.
func RegisterJSON[T any](d *Decoders, eventType enums.OutboxEventType, version int) error {
	if version <= 0 {
		return fmt.Errorf("invalid schema version %d for %s", version, eventType)
	}
	key := schemaKey{eventType: eventType, version: version}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.fns[key]; dup {
		return fmt.Errorf("decoder for %s@v%d already registered", eventType, version)
	}
	d.fns[key] = func(raw json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	return nil
}

// Decode runs the decoder for eventType@version and asserts the result is *T.
func Decode[T any](d *Decoders, eventType enums.OutboxEventType, version int, raw json.RawMessage) (*T, error) {
	decoded, err := d.DecodeAny(eventType, version, raw)
	if err != nil {
		return nil, err
	}
	typed, ok := decoded.(*T)
	if !ok {
		return nil, fmt.Errorf("%s@v%d decodes to %T", eventType, version, decoded)
	}
	return typed, nil
}

// DecodeAny runs the decoder for eventType@version and returns the pointer
// it produced.
func (d *Decoders) DecodeAny(eventType enums.OutboxEventType, version int, raw json.RawMessage) (any, error) {
	d.mu.RLock()
	fn, ok := d.fns[schemaKey{eventType: eventType, version: version}]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", ErrNoDecoder, eventType, version)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s@v%d: empty payload", eventType, version)
	}
	decoded, err := fn(raw)
	if err != nil {
		return nil, fmt.Errorf("%s@v%d: %w", eventType, version, err)
	}
	return decoded, nil
}

// Versions lists the registered schema versions for eventType, ascending.
func (d *Decoders) Versions(eventType enums.OutboxEventType) []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int
	for key := range d.fns {
		if key.eventType == eventType {
			out = append(out, key.version)
		}
	}
	sort.Ints(out)
	return out
}
