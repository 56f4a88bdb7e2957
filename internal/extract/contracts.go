package extract

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pages"
)

// PromptVersion participates in the idempotency fingerprint. Bump it
// whenever the instruction template or the payload shape changes so stale
// cached results are not served for a different contract.
const PromptVersion = "receipts-extract/v3"

// Typed upstream failures. The pipeline maps these onto errorDetail
// classes; everything else is an internal error.
var (
	// ErrUpstreamUnavailable covers network failures, timeouts and 5xx.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamRateLimited is a 429 from the vision endpoint.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrMalformedResponse means the payload stayed undecodable even
	// after the recovery pass.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// Request is one extraction call: the owning user plus the document's
// ordered pages. Page order is what upstream page_number values refer to.
type Request struct {
	OwnerID uuid.UUID
	Pages   []pages.Page
}

// Result carries the normalized line items plus the raw upstream payload
// for logging and troubleshooting. Items may be empty: a receipt with zero
// recognizable line items is a successful extraction.
type Result struct {
	Items []entity.LineItem
	Raw   []byte
}

// Extractor is the boundary around the external AI vision call.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}
