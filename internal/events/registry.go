package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrDecode           = errors.New("cannot decode event payload")
	ErrEncode           = errors.New("cannot encode event payload")
)

// DecodeFunc turns a stored payload back into a concrete event.
type DecodeFunc func(content []byte) (Event, error)

// Registry maps stable discriminators to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// RegisterFunc binds a discriminator to a decode function, replacing any previous binding.
func (r *Registry) RegisterFunc(eventType string, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[strings.TrimSpace(eventType)] = fn
}

type eventPointer[T any] interface {
	*T
	Event
}

// Register binds T's discriminator to a JSON decoder producing *T.
func Register[T any, P eventPointer[T]](r *Registry) {
	eventType := P(new(T)).EventType()
	r.RegisterFunc(eventType, func(content []byte) (Event, error) {
		v := P(new(T))
		if err := json.Unmarshal(content, v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// Decode resolves eventType and decodes content with the bound decoder.
func (r *Registry) Decode(eventType string, content []byte) (Event, error) {
	r.mu.RLock()
	fn, ok := r.decoders[strings.TrimSpace(eventType)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	evt, err := fn(content)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrDecode, eventType, err)
	}
	if evt == nil {
		return nil, fmt.Errorf("%w %q: decoder returned nil", ErrDecode, eventType)
	}
	return evt, nil
}

// Types lists registered discriminators, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Encode serializes evt and returns its discriminator and JSON payload.
func Encode(evt Event) (string, []byte, error) {
	if evt == nil {
		return "", nil, fmt.Errorf("%w: nil event", ErrEncode)
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return "", nil, fmt.Errorf("%w: empty event type", ErrEncode)
	}
	content, err := json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("%w %q: %v", ErrEncode, eventType, err)
	}
	return eventType, content, nil
}
