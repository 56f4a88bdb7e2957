package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RawItem is the upstream payload shape before normalization. Everything is
// permissive on purpose: amounts arrive as strings or numbers, categories
// and tax codes as free text. Normalization clamps all of it.
type RawItem struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Amount        json.RawMessage `json:"amount"`
	Date          string          `json:"date"`
	Merchant      string          `json:"merchant"`
	TaxCode       string          `json:"tax_code"`
	TaxPercentage json.RawMessage `json:"tax_percentage"`
	PageNumber    int             `json:"page_number"`
	Quantity      json.RawMessage `json:"quantity"`
	Unit          string          `json:"unit"`
}

// BuildItemsJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. It is sent to the model (with the category enum) as a
// structured output hint; local validation passes nil so an off-enum
// category is clamped by normalization instead of rejecting the payload.
func BuildItemsJSONSchema(allowedCategories []string) map[string]any {
	itemProps := map[string]any{
		"name":     map[string]any{"type": "string", "minLength": 1},
		"category": map[string]any{"type": "string"},
		"amount":         amountProp(),
		"date":           map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"merchant":       map[string]any{"type": "string"},
		"tax_code":       map[string]any{"type": "string"},
		"tax_percentage": map[string]any{"type": "number"},
		"page_number":    map[string]any{"type": "integer", "minimum": 1},
		"quantity":       map[string]any{"type": "number"},
		"unit":           map[string]any{"type": "string"},
	}

	if len(allowedCategories) > 0 {
		itemProps["category"] = map[string]any{
			"type": "string",
			"enum": allowedCategories,
		}
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": itemProps,
					"required":   []string{"name", "amount", "page_number"},
				},
			},
		},
		"required": []string{"items"},
	}
}

func amountProp() map[string]any {
	// Models frequently return money as strings with locale separators;
	// accept both and let ParseAmount sort them out.
	return map[string]any{
		"anyOf": []map[string]any{
			{"type": "number"},
			{"type": "string", "minLength": 1},
		},
	}
}

// ValidateJSONAgainstSchema compiles the generic-map schema and validates
// doc against it.
func ValidateJSONAgainstSchema(schema map[string]any, doc []byte) error {
	sb, err := json.Marshal(schema)
	if err != nil {
		return eris.Wrap(err, "marshal schema")
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(sb))); err != nil {
		return eris.Wrap(err, "add schema resource")
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return eris.Wrap(err, "compile schema")
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return eris.Wrap(err, "decode payload")
	}
	return compiled.Validate(v)
}
