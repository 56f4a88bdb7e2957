package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
)

// Job represents one uploaded document's processing lifecycle record,
// used for data transfer between layers. The pipeline is the only writer
// of State, Result and ErrorDetail.
type Job struct {
	ID          uuid.UUID          `json:"id"`
	OwnerID     uuid.UUID          `json:"owner_id"`
	SourceRef   string             `json:"source_ref"`
	ContentType string             `json:"content_type"`
	State       constants.JobState `json:"state"`
	Result      []LineItem         `json:"result,omitempty"`
	ErrorDetail *string            `json:"error_detail,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	TerminalAt  *time.Time         `json:"terminal_at,omitempty"`
}

// TransitionOutcome carries the payload attached when a job enters a new
// state. Exactly one of Result/ErrorDetail may be set, and only on a
// terminal transition.
type TransitionOutcome struct {
	Result      []LineItem
	ErrorDetail string
}
