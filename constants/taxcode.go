package constants

import (
	"strconv"
	"strings"
	"unicode"
)

// TaxCode identifies the VAT class of a line item. The percentage is
// embedded in the code string itself; PA_TVSH ("no tax") carries none.
type TaxCode string

const (
	PaTVSH TaxCode = "PA_TVSH" // untaxed / exempt
	TVSH6  TaxCode = "TVSH_6"
	TVSH8  TaxCode = "TVSH_8"
	TVSH18 TaxCode = "TVSH_18"
	TVSH20 TaxCode = "TVSH_20"
)

var allTaxCodes = []TaxCode{PaTVSH, TVSH6, TVSH8, TVSH18, TVSH20}

func TaxCodesAsStringSlice() []string {
	result := make([]string, len(allTaxCodes))
	for i, tc := range allTaxCodes {
		result[i] = string(tc)
	}
	return result
}

// Percentage returns the VAT rate embedded in the code string, 0 for PA_TVSH.
func (t TaxCode) Percentage() float64 {
	digits := strings.TrimFunc(string(t), func(r rune) bool {
		return !unicode.IsDigit(r)
	})
	if digits == "" {
		return 0
	}
	pct, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0
	}
	return pct
}

// ResolveTaxCode maps a free-form tax label from the extractor onto the
// fixed tax-code set: exact match first, then a case-insensitive substring
// pass, else the PA_TVSH sentinel. The percentage is always derived from
// the resolved code, never from the extractor's own numbers.
func ResolveTaxCode(input string) TaxCode {
	s := strings.TrimSpace(input)
	if s == "" {
		return PaTVSH
	}

	for _, tc := range allTaxCodes {
		if s == string(tc) {
			return tc
		}
	}

	lower := strings.ToLower(s)
	// Longest codes first so "TVSH_18" is not claimed by a "TVSH_8" substring probe.
	for _, tc := range []TaxCode{TVSH18, TVSH20, TVSH6, TVSH8, PaTVSH} {
		if strings.Contains(lower, strings.ToLower(string(tc))) {
			return tc
		}
		// also accept the bare embedded rate, e.g. "18" or "18%"
		digits := strings.TrimFunc(string(tc), func(r rune) bool {
			return !unicode.IsDigit(r)
		})
		if digits != "" && containsRate(lower, digits) {
			return tc
		}
	}

	return PaTVSH
}

// containsRate reports whether s mentions the rate as a standalone number
// (so "18" does not match inside "2018").
func containsRate(s, rate string) bool {
	idx := strings.Index(s, rate)
	for idx >= 0 {
		before := idx == 0 || !unicode.IsDigit(rune(s[idx-1]))
		afterIdx := idx + len(rate)
		after := afterIdx >= len(s) || !unicode.IsDigit(rune(s[afterIdx]))
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], rate)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}
