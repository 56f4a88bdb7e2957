package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
)

// dateLayouts are tried in order when the upstream date is not already
// ISO. Albanian receipts mostly print day-first.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
	"02-01-2006",
	"2006/01/02",
	"January 2, 2006",
	"2 January 2006",
}

// NormalizeItems clamps every raw item into the fixed vocabulary. Items
// without a usable name are dropped; an empty result is a valid outcome.
// pageCount bounds the 1-based page_number claims from upstream.
func NormalizeItems(raws []RawItem, pageCount int) []entity.LineItem {
	items := make([]entity.LineItem, 0, len(raws))
	for _, r := range raws {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}

		category, _ := constants.Canonicalize(r.Category)
		code := constants.ResolveTaxCode(r.TaxCode)

		items = append(items, entity.LineItem{
			Name:     name,
			Category: category,
			Amount:   amountFromRaw(r.Amount),
			Date:     normalizeDate(r.Date),
			Merchant: strings.TrimSpace(r.Merchant),
			TaxCode:  code,
			// Always derived from the resolved code, never taken
			// verbatim from the response.
			TaxPercentage: code.Percentage(),
			PageNumber:    clampPage(r.PageNumber, pageCount),
			Quantity:      normalizeQuantity(r.Quantity),
			Unit:          normalizeUnit(r.Unit),
		})
	}
	return items
}

// amountFromRaw accepts a JSON number or a locale-formatted string.
// Unparseable amounts become 0; negatives are folded to their magnitude.
func amountFromRaw(raw json.RawMessage) float64 {
	f, err := decodeNumeric(raw)
	if err != nil {
		return 0
	}
	return math.Abs(f)
}

func decodeNumeric(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, eris.New("empty numeric value")
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, eris.New("numeric value is neither number nor string")
	}
	return ParseAmount(s)
}

// ParseAmount parses a money string, disambiguating decimal from
// thousands separators: "12,20" is 12.20, "1,234.56" is 1234.56 and
// "1.234,56" is also 1234.56.
func ParseAmount(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return 0, eris.Errorf("no digits in amount %q", s)
	}

	comma := strings.LastIndexByte(cleaned, ',')
	dot := strings.LastIndexByte(cleaned, '.')

	switch {
	case comma >= 0 && dot >= 0:
		// The later of the two is the decimal separator.
		if comma > dot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case comma >= 0:
		cleaned = commaOnly(cleaned, comma)
	case dot >= 0:
		cleaned = dotOnly(cleaned, dot)
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse amount %q", s)
	}
	return f, nil
}

// commaOnly decides whether a lone comma is decimal ("12,20") or
// thousands ("1,234" or "1,234,567").
func commaOnly(s string, last int) string {
	if strings.Count(s, ",") == 1 && len(s)-last-1 <= 2 {
		return strings.Replace(s, ",", ".", 1)
	}
	return strings.ReplaceAll(s, ",", "")
}

// dotOnly strips dots only when they form unambiguous thousands groups
// ("1.234.567"); otherwise the dot already is the decimal point.
func dotOnly(s string, last int) string {
	if strings.Count(s, ".") > 1 && len(s)-last-1 == 3 {
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func clampPage(n, pageCount int) int {
	if n < 1 {
		return 1
	}
	if pageCount > 0 && n > pageCount {
		return pageCount
	}
	return n
}

func normalizeQuantity(raw json.RawMessage) float64 {
	q, err := decodeNumeric(raw)
	if err != nil || q <= 0 {
		return constants.DefaultQuantity
	}
	return q
}

func normalizeUnit(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return constants.DefaultUnit
	}
	return strings.ToLower(s)
}
