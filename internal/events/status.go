package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// Outbox event types.
const (
	TypeStepCompleted       = "lca.filing.step_completed.v1"
	TypeStepFailed          = "lca.filing.step_failed.v1"
	TypeSectionCompleted    = "lca.filing.section_completed.v1"
	TypeInteractionRequired = "lca.filing.interaction_required.v1"
	TypeInteractionResolved = "lca.filing.interaction_resolved.v1"
	TypeFilingFinished      = "lca.filing.finished.v1"
)

// outboxTypes maps tracker events worth persisting. Step starts and
// intermediate progress are too chatty for the outbox.
var outboxTypes = map[progress.EventType]string{
	progress.EventStepCompleted:       TypeStepCompleted,
	progress.EventStepFailed:          TypeStepFailed,
	progress.EventSectionCompleted:    TypeSectionCompleted,
	progress.EventInteractionRequired: TypeInteractionRequired,
	progress.EventInteractionResolved: TypeInteractionResolved,
	progress.EventFilingFinished:      TypeFilingFinished,
}

// OutboxType returns the outbox event type for a tracker event.
func OutboxType(t progress.EventType) (string, bool) {
	v, ok := outboxTypes[t]
	return v, ok
}

// FilingStatusV1 is the payload stored for every persisted status event.
type FilingStatusV1 struct {
	EventID             string         `json:"event_id"`
	FilingID            string         `json:"filing_id"`
	Event               string         `json:"event"`
	Stage               progress.Stage `json:"stage"`
	Status              string         `json:"status"`
	Percentage          float64        `json:"percentage"`
	Section             string         `json:"section,omitempty"`
	Message             string         `json:"message,omitempty"`
	AwaitingInteraction bool           `json:"awaiting_interaction"`
	OccurredAt          time.Time      `json:"occurred_at"`
}

// NewFilingStatusV1 builds the payload for a tracker event.
func NewFilingStatusV1(ev progress.Event) FilingStatusV1 {
	return FilingStatusV1{
		EventID:             uuid.NewString(),
		FilingID:            ev.FilingID,
		Event:               string(ev.Type),
		Stage:               ev.State.Stage,
		Status:              ev.State.Status,
		Percentage:          ev.State.Percentage,
		Section:             ev.State.CurrentSection,
		Message:             ev.Message,
		AwaitingInteraction: ev.State.AwaitingInteraction,
		OccurredAt:          ev.At.UTC(),
	}
}

type inserter interface {
	Insert(ctx context.Context, filingID string, eventType string, payload any) (uuid.UUID, error)
}

// OutboxObserver appends significant filing status events to the outbox.
type OutboxObserver struct {
	store  inserter
	logger *logging.Logger
}

func NewOutboxObserver(store *OutboxStore, logger *logging.Logger) *OutboxObserver {
	if store == nil {
		panic("events: outbox store required")
	}
	return newOutboxObserver(store, logger)
}

func newOutboxObserver(store inserter, logger *logging.Logger) *OutboxObserver {
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboxObserver{store: store, logger: logger}
}

// OnStatusUpdate implements progress.Observer.
func (o *OutboxObserver) OnStatusUpdate(ctx context.Context, ev progress.Event) error {
	eventType, ok := OutboxType(ev.Type)
	if !ok {
		return nil
	}
	id, err := o.store.Insert(ctx, ev.FilingID, eventType, NewFilingStatusV1(ev))
	if err != nil {
		return err
	}
	o.logger.Debug("status event queued", "filing_id", ev.FilingID, "type", eventType, "event_id", id)
	return nil
}

var _ progress.Observer = (*OutboxObserver)(nil)
