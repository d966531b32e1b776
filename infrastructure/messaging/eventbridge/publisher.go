package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"instancegraph/domain/events"
	"instancegraph/pkg/observability"
)

// DefaultSource is the event source of every published entry
const DefaultSource = "instancegraph"

// EventBridge limits PutEvents to 10 entries per call
const batchSize = 10

// API is the subset of the EventBridge client the publisher calls
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher implements ports.EventPublisher on AWS EventBridge
type Publisher struct {
	client       API
	eventBusName string
	source       string
	metrics      *observability.Collector
	logger       *zap.Logger
}

// NewPublisher creates a new EventBridge publisher. metrics may be nil.
func NewPublisher(client API, eventBusName string, metrics *observability.Collector, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		source:       DefaultSource,
		metrics:      metrics,
		logger:       logger,
	}
}

// Publish sends a single event
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends events in chunks of at most ten. It stops at the first
// failed chunk.
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for start := 0; start < len(domainEvents); start += batchSize {
		end := min(start+batchSize, len(domainEvents))
		if err := p.publishBatch(ctx, domainEvents[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(domainEvents))
	for _, event := range domainEvents {
		detail, err := json.Marshal(event)
		if err != nil {
			p.metrics.RecordEvent(event.GetEventType(), "error")
			return fmt.Errorf("failed to marshal %s event: %w", event.GetEventType(), err)
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(p.source),
			DetailType:   aws.String(event.GetEventType()),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.GetTimestamp()),
			Resources:    []string{fmt.Sprintf("instancegraph:namespace/%s", event.GetAggregateID())},
		})
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		for _, event := range domainEvents {
			p.metrics.RecordEvent(event.GetEventType(), "error")
		}
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	for i, entry := range out.Entries {
		if i >= len(domainEvents) {
			break
		}
		if entry.ErrorCode != nil {
			p.metrics.RecordEvent(domainEvents[i].GetEventType(), "error")
			p.logger.Error("Failed to publish event",
				zap.String("eventType", domainEvents[i].GetEventType()),
				zap.String("errorCode", *entry.ErrorCode),
				zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
			)
			continue
		}
		p.metrics.RecordEvent(domainEvents[i].GetEventType(), "success")
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("%d events failed to publish", out.FailedEntryCount)
	}

	p.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
