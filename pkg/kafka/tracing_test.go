package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier_SetAndGet(t *testing.T) {
	headers := []kafka.Header{{Key: "existing", Value: []byte("value1")}}
	carrier := NewHeaderCarrier(&headers)

	if got := carrier.Get("existing"); got != "value1" {
		t.Errorf("Get(existing) = %q, want %q", got, "value1")
	}
	if got := carrier.Get("missing"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}

	carrier.Set("new-key", "new-value")
	carrier.Set("existing", "updated")
	if got := carrier.Get("existing"); got != "updated" {
		t.Errorf("Get(existing) after update = %q, want %q", got, "updated")
	}
	if len(headers) != 2 {
		t.Errorf("len(headers) = %d, want 2", len(headers))
	}
	if keys := carrier.Keys(); len(keys) != 2 {
		t.Errorf("Keys() = %v, want 2 keys", keys)
	}
}

func TestPublish_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	w := &recordingWriter{}
	p := NewProducerWithWriter(w, nil, discardLogger())
	event, err := NewEvent("cart.updated", "cart-service", Aggregate{Type: "cart", ID: "sess-1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(ctx, "ecommerce.cart.updated", event); err != nil {
		t.Fatal(err)
	}

	want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	if got := headerValue(w.msgs[0], "traceparent"); got != want {
		t.Errorf("traceparent = %q, want %q", got, want)
	}
}
