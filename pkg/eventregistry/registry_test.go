package eventregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveredEvent struct {
	caseInstanceKey int64
	eventKey        string
	payload         map[string]any
}

type fakeTarget struct {
	delivered []deliveredEvent
}

func (f *fakeTarget) OccurGenericEventListenerForKey(ctx context.Context, caseInstanceKey int64, eventKey string, payload map[string]any) error {
	f.delivered = append(f.delivered, deliveredEvent{caseInstanceKey, eventKey, payload})
	return nil
}

func TestParseChannelDefinition(t *testing.T) {
	def, err := ParseChannelDefinition([]byte("name: payments\neventKeys:\n  - payment-received\n  - payment-failed\n"))
	require.NoError(t, err)
	assert.Equal(t, "payments", def.Name)
	assert.Equal(t, []string{"payment-received", "payment-failed"}, def.EventKeys)

	_, err = ParseChannelDefinition([]byte("eventKeys: [a]\n"))
	assert.Error(t, err)

	_, err = ParseChannelDefinition([]byte("name: [not, a, string]\n"))
	assert.Error(t, err)
}

func TestPublishDeliversAcceptedEvent(t *testing.T) {
	target := &fakeTarget{}
	registry := NewRegistry(target, nil)
	require.NoError(t, registry.RegisterChannel(ChannelDefinition{Name: "payments", EventKeys: []string{"payment-received"}}))

	event := []byte(`{"key":"payment-received","caseInstanceKey":42,"payload":{"amount":99.5}}`)
	require.NoError(t, registry.PublishJSON(t.Context(), "payments", event))

	require.Len(t, target.delivered, 1)
	assert.Equal(t, int64(42), target.delivered[0].caseInstanceKey)
	assert.Equal(t, "payment-received", target.delivered[0].eventKey)
	assert.Equal(t, map[string]any{"amount": 99.5}, target.delivered[0].payload)
}

func TestPublishDropsUnacceptedKey(t *testing.T) {
	target := &fakeTarget{}
	registry := NewRegistry(target, nil)
	require.NoError(t, registry.RegisterChannel(ChannelDefinition{Name: "payments", EventKeys: []string{"payment-received"}}))

	event := []byte(`{"key":"shipment-arrived","caseInstanceKey":42}`)
	// the drop is silent towards the publisher
	require.NoError(t, registry.PublishJSON(t.Context(), "payments", event))
	assert.Empty(t, target.delivered)
}

func TestPublishWithoutKeyFilterAcceptsEverything(t *testing.T) {
	target := &fakeTarget{}
	registry := NewRegistry(target, nil)
	require.NoError(t, registry.RegisterChannel(ChannelDefinition{Name: "catch-all"}))

	event := []byte(`{"key":"anything","caseInstanceKey":7}`)
	require.NoError(t, registry.PublishJSON(t.Context(), "catch-all", event))
	require.Len(t, target.delivered, 1)
}

func TestPublishRejectsMalformedEvents(t *testing.T) {
	target := &fakeTarget{}
	registry := NewRegistry(target, nil)
	require.NoError(t, registry.RegisterChannel(ChannelDefinition{Name: "payments"}))

	err := registry.PublishJSON(t.Context(), "missing-channel", []byte(`{}`))
	assert.ErrorContains(t, err, "unknown channel")

	err = registry.PublishJSON(t.Context(), "payments", []byte(`not json`))
	assert.ErrorContains(t, err, "failed to parse event")

	// missing required envelope fields
	err = registry.PublishJSON(t.Context(), "payments", []byte(`{"payload":{}}`))
	assert.ErrorContains(t, err, "invalid event")
	assert.Empty(t, target.delivered)

	err = registry.RegisterChannel(ChannelDefinition{})
	assert.ErrorContains(t, err, "invalid channel definition")
}
