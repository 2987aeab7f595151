package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// TopicPrefix is prepended to every topic name.
const TopicPrefix = "ecommerce"

// Topic builds a topic name of the form ecommerce.<domain>.<action>.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}

// envelopeVersion is bumped when the Event layout changes incompatibly.
const envelopeVersion = 1

// Event is the envelope every message is published in.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Aggregate names the entity an event describes. Its ID is the partition key.
type Aggregate struct {
	Type string
	ID   string
}

// Option customizes an event built by NewEvent.
type Option func(*Event)

// Correlated attaches the request correlation id. Empty ids are ignored.
func Correlated(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.CorrelationID = id
		}
	}
}

// Meta adds a metadata entry.
func Meta(key, value string) Option {
	return func(e *Event) {
		e.Metadata[key] = value
	}
}

// NewEvent wraps data in an envelope with a fresh id and the current time.
func NewEvent(eventType, source string, agg Aggregate, data any, opts ...Option) (*Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	e := &Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateID:   agg.ID,
		AggregateType: agg.Type,
		Version:       envelopeVersion,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		Data:          payload,
		Metadata:      map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// message encodes the event for topic. Routing headers are copied out of the
// envelope so consumers can filter without decoding the value.
func (e *Event) message(topic string) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(e.EventType)},
		{Key: "source", Value: []byte(e.Source)},
	}
	if e.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation_id", Value: []byte(e.CorrelationID)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(e.AggregateID),
		Value:   value,
		Headers: headers,
	}, nil
}

// DecodeEvent parses a message value produced by Publish.
func DecodeEvent(value []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}

// Decode unmarshals the event payload into target.
func (e *Event) Decode(target any) error {
	return json.Unmarshal(e.Data, target)
}
