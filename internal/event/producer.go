package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/cartstore/internal/domain"
	pkgkafka "github.com/utafrali/cartstore/pkg/kafka"
	"github.com/utafrali/cartstore/pkg/logger"
)

// Kafka topics for cart events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// AggregateTypeCart is the aggregate type carried by every cart event.
const AggregateTypeCart = "cart"

// SourceCartService identifies events published by this service.
const SourceCartService = "cart-service"

// MetadataOperation is the metadata key naming the mutation behind a
// cart.updated event.
const MetadataOperation = "operation"

func cartAggregate(sessionID string) pkgkafka.Aggregate {
	return pkgkafka.Aggregate{Type: AggregateTypeCart, ID: sessionID}
}

// CartUpdatedData is the payload of a cart.updated event.
type CartUpdatedData struct {
	SessionID  string            `json:"session_id"`
	Items      []domain.CartLine `json:"items"`
	TotalItems int               `json:"total_items"`
	TotalPrice float64           `json:"total_price"`
}

// CartClearedData is the payload of a cart.cleared event.
type CartClearedData struct {
	SessionID string `json:"session_id"`
}

// Publisher announces cart changes to other services.
type Publisher interface {
	PublishCartUpdated(ctx context.Context, sessionID, operation string, lines domain.Lines) error
	PublishCartCleared(ctx context.Context, sessionID string) error
}

// EventWriter is the transport a Producer publishes through.
type EventWriter interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes cart events to Kafka.
type Producer struct {
	kafka  EventWriter
	logger *slog.Logger
}

// NewProducer creates a new cart event producer.
func NewProducer(kafka EventWriter, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event with the full cart contents.
// operation names the mutation that produced them and is sent as metadata.
func (p *Producer) PublishCartUpdated(ctx context.Context, sessionID, operation string, lines domain.Lines) error {
	data := CartUpdatedData{
		SessionID:  sessionID,
		Items:      lines.Clone(),
		TotalItems: lines.TotalItems(),
		TotalPrice: lines.TotalPrice(),
	}

	evt, err := pkgkafka.NewEvent(TopicCartUpdated, SourceCartService, cartAggregate(sessionID), data,
		pkgkafka.Correlated(logger.CorrelationIDFromContext(ctx)),
		pkgkafka.Meta(MetadataOperation, operation),
	)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, evt); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("session_id", sessionID),
		slog.String("operation", operation),
		slog.Int("total_items", data.TotalItems),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, sessionID string) error {
	evt, err := pkgkafka.NewEvent(TopicCartCleared, SourceCartService, cartAggregate(sessionID),
		CartClearedData{SessionID: sessionID},
		pkgkafka.Correlated(logger.CorrelationIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartCleared, evt); err != nil {
		return fmt.Errorf("publish cart.cleared event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("session_id", sessionID),
	)
	return nil
}

// Nop discards every event. It is used when Kafka is disabled.
type Nop struct{}

// PublishCartUpdated implements Publisher.
func (Nop) PublishCartUpdated(context.Context, string, string, domain.Lines) error { return nil }

// PublishCartCleared implements Publisher.
func (Nop) PublishCartCleared(context.Context, string) error { return nil }
