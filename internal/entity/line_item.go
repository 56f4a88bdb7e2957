package entity

import (
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
)

// LineItem is one normalized expense entry extracted from a document page.
// Category and TaxCode are always members of their fixed sets after
// normalization; TaxPercentage is derived from TaxCode alone.
type LineItem struct {
	Name          string             `json:"name"`
	Category      constants.Category `json:"category"`
	Amount        float64            `json:"amount"`
	Date          string             `json:"date"` // YYYY-MM-DD
	Merchant      string             `json:"merchant,omitempty"`
	TaxCode       constants.TaxCode  `json:"tax_code"`
	TaxPercentage float64            `json:"tax_percentage"`
	PageNumber    int                `json:"page_number"` // 1-based, as declared upstream
	Quantity      float64            `json:"quantity"`
	Unit          string             `json:"unit"`
}
