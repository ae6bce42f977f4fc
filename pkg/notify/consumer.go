package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSClient is the subset of the SQS API the consumer uses.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Handler processes one upload notification. A nil return deletes the
// message; an error leaves it on the queue for redelivery.
type Handler func(ctx context.Context, upload Upload) error

// Consumer long-polls an SQS queue for S3 object-created notifications.
type Consumer struct {
	client   SQSClient
	queueURL string
	handler  Handler
	logger   *slog.Logger

	maxMessages       int32
	concurrency       int
	waitTime          time.Duration
	visibilityTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithMaxMessages sets the per-poll batch size (default 10, the SQS cap).
func WithMaxMessages(n int32) ConsumerOption {
	return func(c *Consumer) { c.maxMessages = n }
}

// WithConcurrency caps how many messages of one poll batch are handled at
// once (default 10, matching the SQS batch cap).
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithWaitTime sets the long-poll duration (default 20s).
func WithWaitTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.waitTime = d }
}

// WithVisibilityTimeout sets how long a received message stays hidden
// (default 5 minutes, covering a full VAD pass).
func WithVisibilityTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.visibilityTimeout = d }
}

// NewConsumer creates a consumer over an existing SQS client.
func NewConsumer(client SQSClient, queueURL string, handler Handler, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	if client == nil {
		panic("notify: SQS client must not be nil")
	}
	if handler == nil {
		panic("notify: handler must not be nil")
	}
	c := &Consumer{
		client:            client,
		queueURL:          queueURL,
		handler:           handler,
		logger:            logger.With("component", "upload-consumer"),
		maxMessages:       10,
		concurrency:       10,
		waitTime:          20 * time.Second,
		visibilityTimeout: 5 * time.Minute,
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSQSClient builds a real SQS client from the default AWS configuration.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// Start launches the polling loop. It returns immediately.
func (c *Consumer) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop signals the loop and waits for the in-flight poll to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)
	c.logger.Info("upload consumer started", "queue", c.queueURL)
	for {
		select {
		case <-c.stopCh:
			c.logger.Info("upload consumer stopped")
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("receive failed", "error", err)
			// Back off briefly so a broken queue does not spin the loop.
			select {
			case <-time.After(5 * time.Second):
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Poll performs one receive and dispatches every message in the batch,
// handling them in parallel up to the concurrency cap. It returns once the
// whole batch has settled.
func (c *Consumer) Poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     int32(c.waitTime / time.Second),
		VisibilityTimeout:   int32(c.visibilityTimeout / time.Second),
	})
	if err != nil {
		return err
	}
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for _, msg := range out.Messages {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.handleMessage(ctx, msg)
		}()
	}
	wg.Wait()
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg sqstypes.Message) {
	uploads, parseErrs := ParseEvent([]byte(aws.ToString(msg.Body)))
	for _, perr := range parseErrs {
		// Malformed records would never succeed on retry.
		c.logger.Warn("dropping unparseable record", "error", perr)
	}
	if len(uploads) == 0 {
		c.delete(ctx, msg)
		return
	}

	failed := false
	for _, upload := range uploads {
		if err := c.handler(ctx, upload); err != nil {
			failed = true
			c.logger.Error("upload processing failed",
				"key", upload.Key, "username", upload.Username, "error", err)
		}
	}
	if !failed {
		c.delete(ctx, msg)
	}
}

func (c *Consumer) delete(ctx context.Context, msg sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.logger.Error("delete message failed", "error", err)
	}
}
