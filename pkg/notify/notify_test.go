package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s3EventBody(eventName, key string, size int64) string {
	return fmt.Sprintf(`{"Records":[{"eventName":%q,"s3":{"bucket":{"name":"lifetrace-audio"},"object":{"key":%q,"size":%d}}}]}`,
		eventName, key, size)
}

func TestParseEventObjectCreated(t *testing.T) {
	body := s3EventBody("ObjectCreated:Put", "native-audio/alice/seg-001.wav", 32000)

	uploads, errs := ParseEvent([]byte(body))
	require.Empty(t, errs)
	require.Len(t, uploads, 1)
	assert.Equal(t, "lifetrace-audio", uploads[0].Bucket)
	assert.Equal(t, "native-audio/alice/seg-001.wav", uploads[0].Key)
	assert.Equal(t, "alice", uploads[0].Username)
	assert.Equal(t, "seg-001.wav", uploads[0].Filename)
	assert.Equal(t, int64(32000), uploads[0].Size)
}

func TestParseEventURLEncodedKey(t *testing.T) {
	body := s3EventBody("ObjectCreated:Post", "native-audio/alice/morning+walk.wav", 100)

	uploads, errs := ParseEvent([]byte(body))
	require.Empty(t, errs)
	require.Len(t, uploads, 1)
	assert.Equal(t, "native-audio/alice/morning walk.wav", uploads[0].Key)
}

func TestParseEventSkipsNonCreate(t *testing.T) {
	body := s3EventBody("ObjectRemoved:Delete", "native-audio/alice/seg.wav", 0)

	uploads, errs := ParseEvent([]byte(body))
	assert.Empty(t, uploads)
	assert.Empty(t, errs)
}

func TestParseEventBadKeyShape(t *testing.T) {
	for _, key := range []string{
		"other-prefix/alice/seg.wav",
		"native-audio/seg.wav",
		"native-audio/alice/deep/seg.wav",
		"native-audio//seg.wav",
	} {
		body := s3EventBody("ObjectCreated:Put", key, 1)
		uploads, errs := ParseEvent([]byte(body))
		assert.Empty(t, uploads, "key %s", key)
		assert.Len(t, errs, 1, "key %s", key)
	}
}

func TestParseEventMalformedBody(t *testing.T) {
	uploads, errs := ParseEvent([]byte("not json"))
	assert.Empty(t, uploads)
	require.Len(t, errs, 1)

	uploads, errs = ParseEvent([]byte(`{"Records":[]}`))
	assert.Empty(t, uploads)
	assert.Len(t, errs, 1)
}

type fakeSQS struct {
	mu       sync.Mutex
	messages []sqstypes.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestConsumerDeletesOnSuccess(t *testing.T) {
	client := &fakeSQS{messages: []sqstypes.Message{{
		Body:          aws.String(s3EventBody("ObjectCreated:Put", "native-audio/alice/a.wav", 10)),
		ReceiptHandle: aws.String("rh-1"),
	}}}

	var handled []Upload
	consumer := NewConsumer(client, "https://sqs.invalid/q", func(_ context.Context, u Upload) error {
		handled = append(handled, u)
		return nil
	}, discardLogger())

	require.NoError(t, consumer.Poll(context.Background()))
	require.Len(t, handled, 1)
	assert.Equal(t, []string{"rh-1"}, client.deleted)
}

func TestConsumerKeepsMessageOnHandlerError(t *testing.T) {
	client := &fakeSQS{messages: []sqstypes.Message{{
		Body:          aws.String(s3EventBody("ObjectCreated:Put", "native-audio/alice/a.wav", 10)),
		ReceiptHandle: aws.String("rh-1"),
	}}}

	consumer := NewConsumer(client, "https://sqs.invalid/q", func(context.Context, Upload) error {
		return fmt.Errorf("transient")
	}, discardLogger())

	require.NoError(t, consumer.Poll(context.Background()))
	assert.Empty(t, client.deleted)
}

func batchMessages(n int) []sqstypes.Message {
	msgs := make([]sqstypes.Message, n)
	for i := range msgs {
		msgs[i] = sqstypes.Message{
			Body:          aws.String(s3EventBody("ObjectCreated:Put", fmt.Sprintf("native-audio/alice/seg-%d.wav", i), 10)),
			ReceiptHandle: aws.String(fmt.Sprintf("rh-%d", i)),
		}
	}
	return msgs
}

func TestConsumerHandlesBatchInParallel(t *testing.T) {
	const n = 3
	client := &fakeSQS{messages: batchMessages(n)}

	// Every handler blocks until all n are running at once; a serial
	// consumer would never get past the first message.
	var entered sync.WaitGroup
	entered.Add(n)
	release := make(chan struct{})
	consumer := NewConsumer(client, "https://sqs.invalid/q", func(context.Context, Upload) error {
		entered.Done()
		<-release
		return nil
	}, discardLogger())

	go func() {
		entered.Wait()
		close(release)
	}()
	require.NoError(t, consumer.Poll(context.Background()))
	assert.Len(t, client.deleted, n)
}

func TestConsumerConcurrencyCap(t *testing.T) {
	client := &fakeSQS{messages: batchMessages(4)}

	var inFlight, maxSeen atomic.Int32
	consumer := NewConsumer(client, "https://sqs.invalid/q", func(context.Context, Upload) error {
		cur := inFlight.Add(1)
		for {
			m := maxSeen.Load()
			if cur <= m || maxSeen.CompareAndSwap(m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}, discardLogger(), WithConcurrency(1))

	require.NoError(t, consumer.Poll(context.Background()))
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Len(t, client.deleted, 4)
}

func TestConsumerDeletesUnparseable(t *testing.T) {
	client := &fakeSQS{messages: []sqstypes.Message{{
		Body:          aws.String(s3EventBody("ObjectCreated:Put", "wrong-prefix/alice/a.wav", 10)),
		ReceiptHandle: aws.String("rh-bad"),
	}}}

	consumer := NewConsumer(client, "https://sqs.invalid/q", func(context.Context, Upload) error {
		t.Fatal("handler should not run for unparseable keys")
		return nil
	}, discardLogger())

	require.NoError(t, consumer.Poll(context.Background()))
	assert.Equal(t, []string{"rh-bad"}, client.deleted)
}
