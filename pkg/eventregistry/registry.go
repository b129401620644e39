// Package eventregistry routes inbound events to generic event listeners of
// running case instances. Channels declare which event keys they accept;
// events arrive as JSON envelopes and are correlated by case instance key
// and event key.
package eventregistry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// ChannelDefinition declares one inbound channel. An empty EventKeys list
// accepts every key.
type ChannelDefinition struct {
	Name      string   `yaml:"name" json:"name" validate:"required"`
	EventKeys []string `yaml:"eventKeys" json:"eventKeys"`
}

// ParseChannelDefinition reads a channel definition from its YAML form.
func ParseChannelDefinition(data []byte) (ChannelDefinition, error) {
	var def ChannelDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("failed to parse channel definition: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(def); err != nil {
		return def, fmt.Errorf("invalid channel definition: %w", err)
	}
	return def, nil
}

// InboundEvent is the JSON envelope of one event delivered to a channel.
type InboundEvent struct {
	Key             string         `json:"key" validate:"required"`
	CaseInstanceKey int64          `json:"caseInstanceKey" validate:"required"`
	Payload         map[string]any `json:"payload"`
}

// EventTarget is the engine facade the registry delivers events to.
type EventTarget interface {
	OccurGenericEventListenerForKey(ctx context.Context, caseInstanceKey int64, eventKey string, payload map[string]any) error
}

type Registry struct {
	logger   hclog.Logger
	validate *validator.Validate
	target   EventTarget
	channels map[string]ChannelDefinition
}

func NewRegistry(target EventTarget, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.Default().Named("event-registry")
	}
	return &Registry{
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		target:   target,
		channels: map[string]ChannelDefinition{},
	}
}

func (r *Registry) RegisterChannel(def ChannelDefinition) error {
	if err := r.validate.Struct(def); err != nil {
		return fmt.Errorf("invalid channel definition: %w", err)
	}
	r.channels[def.Name] = def
	return nil
}

// PublishJSON delivers one JSON encoded event through a registered channel.
func (r *Registry) PublishJSON(ctx context.Context, channelName string, data []byte) error {
	channel, ok := r.channels[channelName]
	if !ok {
		return fmt.Errorf("unknown channel %q", channelName)
	}
	var event InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to parse event on channel %q: %w", channelName, err)
	}
	if err := r.validate.Struct(event); err != nil {
		return fmt.Errorf("invalid event on channel %q: %w", channelName, err)
	}
	if len(channel.EventKeys) > 0 && !accepts(channel.EventKeys, event.Key) {
		r.logger.Warn("dropped event with key not accepted by channel",
			"channel", channelName, "eventKey", event.Key)
		return nil
	}
	r.logger.Debug("delivering event", "channel", channelName,
		"eventKey", event.Key, "caseInstanceKey", event.CaseInstanceKey)
	return r.target.OccurGenericEventListenerForKey(ctx, event.CaseInstanceKey, event.Key, event.Payload)
}

func accepts(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
