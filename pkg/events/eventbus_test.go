package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBuilder(t *testing.T) {
	event := NewEventBuilder(TypeIndexRebuilt).
		WithAggregateID("run-1").
		WithAggregateType("index_run").
		WithPayload("index", "dataset_1700000000000").
		WithPayload("documentsIndexed", 250).
		Build()

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, TypeIndexRebuilt, event.Type)
	assert.Equal(t, "run-1", event.AggregateID)
	assert.Equal(t, "index_run", event.AggregateType)
	assert.Equal(t, 1, event.Version)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, "dataset_1700000000000", event.Payload["index"])
	assert.Equal(t, 250, event.Payload["documentsIndexed"])
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "registry.search"})
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "registry.search"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewEventBuilder(TypeIndexFailed).Build()))
	assert.NoError(t, p.Close())
}
