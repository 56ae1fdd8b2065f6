package filing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message attributes set on every filing job.
const (
	attrJobKind  = "kind"
	attrFilingID = "filing_id"
)

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue carries filing jobs over SQS. On a FIFO queue each filing is its
// own message group and the job id is the deduplication id, so a retried
// Submit cannot enqueue the same filing twice.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	fifo     bool
}

func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("filing: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("filing: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

func (q *SQSQueue) Send(ctx context.Context, job Job) error {
	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.queueURL),
		MessageBody:       aws.String(job.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{},
	}
	for name, v := range map[string]string{attrJobKind: job.Kind, attrFilingID: job.FilingID} {
		if v != "" {
			in.MessageAttributes[name] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
		}
	}
	if q.fifo {
		if job.FilingID == "" || job.ID == "" {
			return fmt.Errorf("filing: fifo queue needs filing and job ids")
		}
		in.MessageGroupId = aws.String(job.FilingID)
		in.MessageDeduplicationId = aws.String(job.ID)
	}
	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("filing: send job for %s: %w", job.FilingID, err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.queueURL),
		MaxNumberOfMessages:         int32(maxMessages),
		WaitTimeSeconds:             int32(waitSeconds),
		MessageAttributeNames:       []string{attrJobKind, attrFilingID},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("filing: receive jobs: %w", err)
	}

	messages := make([]QueueMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := QueueMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			ReceiveCount:  1,
		}
		if attr, ok := m.MessageAttributes[attrFilingID]; ok {
			msg.FilingID = aws.ToString(attr.StringValue)
		}
		if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil && n > 0 {
			msg.ReceiveCount = n
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete ignores an empty receipt handle.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("filing: delete job: %w", err)
	}
	return nil
}
