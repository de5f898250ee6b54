// Package sqs implements the clipvault.JobQueue interface on Amazon SQS.
//
// Retry and dead-letter policy live on the queue itself: attempts are
// bounded by the redrive policy's maxReceiveCount (5 for the processing
// queue) and backoff between attempts comes from the visibility timeout, so
// a worker that neither acks nor rejects a delivery simply lets the broker
// redeliver it.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/clipvault/clipvault/pkg/clipvault"
)

// Config options for the SQS job queue
type Config struct {
	QueueURL          string // SQS queue URL (required)
	WaitTimeSeconds   int32  // Long-poll window for Receive (default: 10)
	VisibilityTimeout int32  // Seconds a claimed job stays invisible (default: 900)
}

// Client is an SQS implementation of the clipvault.JobQueue interface
type Client struct {
	sqs               *sqs.Client
	queueURL          string
	waitTimeSeconds   int32
	visibilityTimeout int32
}

// New creates a new SQS job queue client
func New(client *sqs.Client, config Config) (*Client, error) {
	if config.QueueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}
	if config.WaitTimeSeconds == 0 {
		config.WaitTimeSeconds = 10
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 900
	}

	return &Client{
		sqs:               client,
		queueURL:          config.QueueURL,
		waitTimeSeconds:   config.WaitTimeSeconds,
		visibilityTimeout: config.VisibilityTimeout,
	}, nil
}

// Enqueue posts a job. Broker unavailability surfaces synchronously to the
// caller; the job is never silently dropped.
func (c *Client) Enqueue(ctx context.Context, job clipvault.ProcessingJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = c.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return clipvault.Transient(fmt.Errorf("send message: %w", err))
	}

	return nil
}

// Receive long-polls for the next job. Returns (nil, nil) when the poll
// window elapses with nothing available.
func (c *Client) Receive(ctx context.Context) (*clipvault.JobMessage, error) {
	out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     c.waitTimeSeconds,
		VisibilityTimeout:   c.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, clipvault.Transient(fmt.Errorf("receive message: %w", err))
	}

	if len(out.Messages) == 0 {
		return nil, nil
	}
	m := out.Messages[0]

	var job clipvault.ProcessingJob
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &job); err != nil {
		// A malformed body can never become valid; drop it rather than let
		// it cycle through the redrive policy.
		_ = c.deleteMessage(ctx, aws.ToString(m.ReceiptHandle))
		return nil, fmt.Errorf("unmarshal job body: %w", err)
	}

	attempt := 1
	if v, ok := m.Attributes["ApproximateReceiveCount"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			attempt = n
		}
	}

	return &clipvault.JobMessage{
		Job:           job,
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Attempt:       attempt,
	}, nil
}

// Ack removes a successfully processed delivery.
func (c *Client) Ack(ctx context.Context, msg *clipvault.JobMessage) error {
	return c.deleteMessage(ctx, msg.ReceiptHandle)
}

// Reject removes a delivery whose failure redelivery cannot fix, bypassing
// the broker's retry policy.
func (c *Client) Reject(ctx context.Context, msg *clipvault.JobMessage) error {
	return c.deleteMessage(ctx, msg.ReceiptHandle)
}

func (c *Client) deleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return clipvault.Transient(fmt.Errorf("delete message: %w", err))
	}
	return nil
}
