// Package billing computes monthly tracked users per workspace and emits
// usage events for the downstream billing pipeline.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/getbeton/inspector-sub003/pkg/metrics"
	"github.com/getbeton/inspector-sub003/pkg/tracing"
)

// ProducerConfig holds Kafka configuration for usage events
type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// ParseBrokers parses a comma-separated broker string
func ParseBrokers(brokers string) []string {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}
	return brokerList
}

// UsageEvent is one billing measurement for one workspace and period.
type UsageEvent struct {
	WorkspaceID  string    `json:"workspace_id"`
	Period       string    `json:"period"` // YYYY-MM
	TrackedUsers int64     `json:"tracked_users"`
	Source       string    `json:"source"` // primary | fallback_partial | fallback_complete
	ComputedAt   time.Time `json:"computed_at"`

	// Tracing
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// Producer publishes usage events to Kafka
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new usage event producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Allow Kafka to auto-create the topic in dev environments when it doesn't exist yet.
		// Without this, a first publish may fail with "Unknown Topic Or Partition".
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish publishes a usage event to Kafka
func (p *Producer) Publish(ctx context.Context, evt *UsageEvent) error {
	ctx, span := tracing.StartSpan(ctx, "Billing.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("workspace_id", evt.WorkspaceID),
		attribute.String("period", evt.Period),
	)

	if evt.ComputedAt.IsZero() {
		evt.ComputedAt = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)
	evt.SpanID = tracing.GetSpanID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal usage event")
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	// Partition by workspace and period so replays overwrite cleanly
	key := fmt.Sprintf("%s:%s", evt.WorkspaceID, evt.Period)

	headers := []kafka.Header{
		{Key: "workspace_id", Value: []byte(evt.WorkspaceID)},
		{Key: "period", Value: []byte(evt.Period)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish usage event")
		metrics.UsageEventsPublished.WithLabelValues("error").Inc()
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish usage event to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "usage event published")
	metrics.UsageEventsPublished.WithLabelValues("success").Inc()
	p.logger.WithContext(ctx).Debugf("Published usage event: workspace=%s period=%s count=%d source=%s",
		evt.WorkspaceID, evt.Period, evt.TrackedUsers, evt.Source)

	return nil
}
