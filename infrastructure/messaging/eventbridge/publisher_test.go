package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/events"
	"instancegraph/pkg/observability"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*eventbridge.PutEventsOutput)
	return out, args.Error(1)
}

func okOutput(n int) *eventbridge.PutEventsOutput {
	return &eventbridge.PutEventsOutput{Entries: make([]types.PutEventsResultEntry, n)}
}

func deletedEvents(n int) []events.DomainEvent {
	out := make([]events.DomainEvent, n)
	for i := range out {
		out[i] = events.NewInstancesDeleted("people", []valueobjects.EntityRef{valueobjects.MustEntityRef("people", "a")}, time.Now())
	}
	return out
}

func TestPublisher_ChunksByTen(t *testing.T) {
	api := new(MockAPI)
	api.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool { return len(in.Entries) == 10 })).
		Return(okOutput(10), nil).Twice()
	api.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool { return len(in.Entries) == 3 })).
		Return(okOutput(3), nil).Once()

	p := NewPublisher(api, "instances", observability.NewCollector("test"), zap.NewNop())
	require.NoError(t, p.PublishBatch(context.Background(), deletedEvents(23)))
	api.AssertExpectations(t)
}

func TestPublisher_EntryShape(t *testing.T) {
	api := new(MockAPI)
	var captured *eventbridge.PutEventsInput
	api.On("PutEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*eventbridge.PutEventsInput) }).
		Return(okOutput(1), nil).Once()

	ref := valueobjects.MustEntityRef("people", "a")
	event := events.NewInstancesApplied("people", []valueobjects.EntityRef{ref}, nil, nil, true, time.Now())
	require.NoError(t, NewPublisher(api, "instances", nil, zap.NewNop()).Publish(context.Background(), event))

	require.Len(t, captured.Entries, 1)
	entry := captured.Entries[0]
	assert.Equal(t, "instances", aws.ToString(entry.EventBusName))
	assert.Equal(t, DefaultSource, aws.ToString(entry.Source))
	assert.Equal(t, events.TypeInstancesApplied, aws.ToString(entry.DetailType))

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "people", detail["aggregate_id"])
	assert.Equal(t, true, detail["replace"])
}

func TestPublisher_Failures(t *testing.T) {
	t.Run("call error", func(t *testing.T) {
		api := new(MockAPI)
		api.On("PutEvents", mock.Anything, mock.Anything).Return(nil, errors.New("denied")).Once()
		err := NewPublisher(api, "instances", nil, zap.NewNop()).PublishBatch(context.Background(), deletedEvents(15))
		assert.Error(t, err)
		api.AssertNumberOfCalls(t, "PutEvents", 1)
	})

	t.Run("failed entries", func(t *testing.T) {
		out := okOutput(2)
		out.FailedEntryCount = 1
		out.Entries[1].ErrorCode = aws.String("InternalFailure")
		api := new(MockAPI)
		api.On("PutEvents", mock.Anything, mock.Anything).Return(out, nil).Once()
		err := NewPublisher(api, "instances", nil, zap.NewNop()).PublishBatch(context.Background(), deletedEvents(2))
		assert.EqualError(t, err, "1 events failed to publish")
	})
}
