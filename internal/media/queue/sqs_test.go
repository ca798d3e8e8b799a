package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type fakeSQS struct {
	mu         sync.Mutex
	sent       []*sqs.SendMessageInput
	inbox      []types.Message
	deleted    []string
	visibility map[string]int32
	seq        int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{visibility: make(map[string]int32)}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	f.seq++
	id := fmt.Sprintf("m-%d", f.seq)
	f.inbox = append(f.inbox, types.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("r-" + id),
		Body:          in.MessageBody,
	})
	return &sqs.SendMessageOutput{MessageId: aws.String(id)}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &sqs.ReceiveMessageOutput{}, nil
	}
	n := int(in.MaxNumberOfMessages)
	if n > len(f.inbox) {
		n = len(f.inbox)
	}
	out := f.inbox[:n]
	f.inbox = f.inbox[n:]
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func newTestSQS(t *testing.T, api SQSAPI) *SQS {
	t.Helper()
	q, err := NewSQS(api, SQSConfig{QueueURL: "https://sqs.local/transcode", WaitTime: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return q
}

func TestNewSQS_RequiresURL(t *testing.T) {
	_, err := NewSQS(newFakeSQS(), SQSConfig{}, zerolog.Nop())
	require.Error(t, err)
}

func TestSQS_PublishConsumeAck(t *testing.T) {
	api := newFakeSQS()
	q := newTestSQS(t, api)
	ctx := context.Background()

	job := models.NewTranscodeJob(uuid.New(), 0, time.Now())
	require.NoError(t, q.Publish(ctx, job))
	require.Len(t, api.sent, 1)
	assert.Equal(t, int32(0), api.sent[0].DelaySeconds)
	assert.Equal(t, "0", aws.ToString(api.sent[0].MessageAttributes["attempt"].StringValue))

	del, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, job, del.Job())

	require.NoError(t, del.Ack(ctx))
	assert.Equal(t, []string{"r-m-1"}, api.deleted)
}

func TestSQS_NackChangesVisibility(t *testing.T) {
	api := newFakeSQS()
	q := newTestSQS(t, api)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, models.NewTranscodeJob(uuid.New(), 1, time.Now())))
	del, err := q.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, del.Nack(ctx, 30*time.Second))
	assert.Equal(t, int32(30), api.visibility["r-m-1"])
	assert.Empty(t, api.deleted)
}

func TestSQS_DelayedPublish(t *testing.T) {
	api := newFakeSQS()
	q := newTestSQS(t, api)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	q.clock = func() time.Time { return now }

	job := models.NewTranscodeJob(uuid.New(), 2, now).Delayed(now, 45*time.Second)
	require.NoError(t, q.Publish(context.Background(), job))
	assert.Equal(t, int32(45), api.sent[0].DelaySeconds)

	long := models.NewTranscodeJob(uuid.New(), 2, now).Delayed(now, time.Hour)
	require.NoError(t, q.Publish(context.Background(), long))
	assert.Equal(t, int32(900), api.sent[1].DelaySeconds)
}

func TestSQS_ConsumeDefersJobsNotYetDue(t *testing.T) {
	api := newFakeSQS()
	q := newTestSQS(t, api)
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	q.clock = func() time.Time { return now }
	ctx := context.Background()

	future := models.NewTranscodeJob(uuid.New(), 1, now).Delayed(now, time.Hour)
	due := models.NewTranscodeJob(uuid.New(), 0, now)
	require.NoError(t, q.Publish(ctx, future))
	require.NoError(t, q.Publish(ctx, due))

	del, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, due.ContentID, del.Job().ContentID)
	assert.Equal(t, int32(3600), api.visibility["r-m-1"])
}

func TestSQS_DropsPoisonMessages(t *testing.T) {
	api := newFakeSQS()
	q := newTestSQS(t, api)
	ctx := context.Background()

	api.inbox = append(api.inbox, types.Message{MessageId: aws.String("bad"), ReceiptHandle: aws.String("r-bad"), Body: aws.String("{")})
	good := models.NewTranscodeJob(uuid.New(), 0, time.Now())
	require.NoError(t, q.Publish(ctx, good))

	del, err := q.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.ContentID, del.Job().ContentID)
	assert.Equal(t, []string{"r-bad"}, api.deleted)
}
