package filing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
)

// Queue carries filing jobs from Submit to the Dispatcher.
type Queue interface {
	Send(ctx context.Context, job Job) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Job is an encoded filing job. ID and FilingID are repeated outside the
// body so a queue can route and deduplicate without decoding it.
type Job struct {
	ID       string
	FilingID string
	Kind     string
	Body     string
}

type QueueMessage struct {
	ID            string
	FilingID      string
	Body          string
	ReceiptHandle string
	// ReceiveCount is how many times the queue has handed this message out,
	// this delivery included.
	ReceiveCount int
}

type jobKind string

const jobKindFile jobKind = "lca.file.v1"

// queuePayload carries one application to the dispatcher. Credentials travel
// with it, so queues must be encrypted at rest.
type queuePayload struct {
	ID          string          `json:"id"`
	Kind        jobKind         `json:"kind"`
	FilingID    string          `json:"filing_id"`
	Application lca.Application `json:"application"`
}

func (p queuePayload) job(body string) Job {
	return Job{ID: p.ID, FilingID: p.FilingID, Kind: string(p.Kind), Body: body}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.Kind == "" {
		payload.Kind = jobKindFile
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("filing: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
