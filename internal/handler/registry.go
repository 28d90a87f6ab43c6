package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// ErrInvalidConfig is matched by every *ConfigError.
var ErrInvalidConfig = errors.New("invalid handler configuration")

// ErrUnknownHandler is returned for keys missing from the registry.
var ErrUnknownHandler = errors.New("unknown handler")

// ConfigError reports a handler configuration rejected before persistence.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("handler %q: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}

// Factory builds a zero-config handler bound to env.
type Factory func(env Env) Handler

type registration struct {
	role    Role
	factory Factory
}

// Registry maps handler keys to constructors, partitioned by role.
type Registry struct {
	env      Env
	handlers map[string]registration
}

// NewRegistry creates an empty registry whose handlers receive env.
func NewRegistry(env Env) *Registry {
	return &Registry{
		env:      env.WithDefaults(),
		handlers: make(map[string]registration),
	}
}

// Register adds a constructor under key. Registering a key twice panics.
func (r *Registry) Register(role Role, key string, factory Factory) {
	if _, ok := r.handlers[key]; ok {
		panic(fmt.Sprintf("handler %q registered twice", key))
	}
	r.handlers[key] = registration{role: role, factory: factory}
}

// Env returns the environment handed to constructed handlers.
func (r *Registry) Env() Env {
	return r.env
}

// Keys lists every registered key, sorted.
func (r *Registry) Keys() []string {
	keys := lo.Keys(r.handlers)
	slices.Sort(keys)
	return keys
}

// KeysFor lists the keys registered for a role, sorted.
func (r *Registry) KeysFor(role Role) []string {
	keys := lo.Keys(lo.PickBy(r.handlers, func(_ string, reg registration) bool {
		return reg.role == role
	}))
	slices.Sort(keys)
	return keys
}

// Roles is the reverse map from key to role name.
func (r *Registry) Roles() map[string]Role {
	return lo.MapValues(r.handlers, func(reg registration, _ string) Role {
		return reg.role
	})
}

// Role returns the role of key.
func (r *Registry) Role(key string) (Role, bool) {
	reg, ok := r.handlers[key]
	return reg.role, ok
}

// Default builds the handler for key with no configuration.
func (r *Registry) Default(key string) (Handler, error) {
	reg, ok := r.handlers[key]
	if !ok {
		return nil, &ConfigError{Key: key, Err: ErrUnknownHandler}
	}
	return reg.factory(r.env), nil
}

type validator interface {
	Validate() error
}

// New builds the handler for key from a JSON configuration object. The config
// replaces any previous one; unknown fields and failed validation are rejected.
func (r *Registry) New(key string, config []byte) (Handler, error) {
	h, err := r.Default(key)
	if err != nil {
		return nil, err
	}

	config = bytes.TrimSpace(config)
	if len(config) > 0 && !bytes.Equal(config, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(config))
		dec.DisallowUnknownFields()
		if err := dec.Decode(h); err != nil {
			return nil, &ConfigError{Key: key, Err: err}
		}
	}

	if v, ok := h.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &ConfigError{Key: key, Err: err}
		}
	}
	return h, nil
}

// Restore rebuilds a handler from configuration that was already accepted once.
// Validation is skipped so a stored default-constructed handler can be loaded.
func (r *Registry) Restore(key string, config []byte) (Handler, error) {
	h, err := r.Default(key)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(config)) > 0 {
		if err := json.Unmarshal(config, h); err != nil {
			return nil, &ConfigError{Key: key, Err: err}
		}
	}
	return h, nil
}

// Config serializes the persisted configuration of h.
func Config(h Handler) ([]byte, error) {
	return json.Marshal(h)
}
