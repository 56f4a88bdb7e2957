package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := [][2]JobState{
		{JobStatePending, JobStateProcessing},
		{JobStateProcessing, JobStateProcessed},
		{JobStateProcessing, JobStateFailed},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s should be legal", e[0], e[1])
	}

	illegal := [][2]JobState{
		{JobStatePending, JobStateProcessed},
		{JobStatePending, JobStateFailed},
		{JobStateProcessed, JobStateProcessing},
		{JobStateProcessed, JobStateFailed},
		{JobStateFailed, JobStateProcessed},
		{JobStateFailed, JobStateProcessing},
		{JobStateProcessing, JobStatePending},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s should be illegal", e[0], e[1])
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, JobStatePending.IsTerminal())
	assert.False(t, JobStateProcessing.IsTerminal())
	assert.True(t, JobStateProcessed.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
}

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"Groceries", Groceries, true},
		{"groceries", Groceries, true},
		{"supermarket", Groceries, true},
		{"restaurant", Meals, true},
		{"taxi", Transport, true},
		{"saas", SoftwareSubscription, true},
		{"", Other, false},
		{"completely unknown", Other, false},
	}
	for _, c := range cases {
		got, ok := Canonicalize(c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
	}
}

func TestResolveTaxCode(t *testing.T) {
	cases := []struct {
		in   string
		want TaxCode
	}{
		{"TVSH_18", TVSH18},
		{"tvsh_18", TVSH18},
		{"TVSH 18%", TVSH18},
		{"18%", TVSH18},
		{"vat 8", TVSH8},
		{"8", TVSH8},
		{"20", TVSH20},
		{"6%", TVSH6},
		{"PA_TVSH", PaTVSH},
		{"pa_tvsh", PaTVSH},
		{"", PaTVSH},
		{"no tax", PaTVSH},
		{"2018", PaTVSH}, // year, not a rate
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ResolveTaxCode(c.in), "input %q", c.in)
	}
}

func TestTaxCodePercentage(t *testing.T) {
	assert.Equal(t, 0.0, PaTVSH.Percentage())
	assert.Equal(t, 6.0, TVSH6.Percentage())
	assert.Equal(t, 8.0, TVSH8.Percentage())
	assert.Equal(t, 18.0, TVSH18.Percentage())
	assert.Equal(t, 20.0, TVSH20.Percentage())
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", NormalizeContentType(" Image/JPEG; charset=binary "))
	assert.True(t, IsSupportedContentType("application/pdf"))
	assert.True(t, IsSupportedContentType("image/heic"))
	assert.False(t, IsSupportedContentType("text/html"))
}
