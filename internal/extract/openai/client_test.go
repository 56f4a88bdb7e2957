package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/extract"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pages"
)

func completionWith(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func testRequest() extract.Request {
	return extract.Request{
		OwnerID: uuid.New(),
		Pages: []pages.Page{
			{Number: 1, PNG: []byte("fake-png-bytes")},
			{Number: 2, PNG: []byte("more-fake-png")},
		},
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "gpt-4o-mini",
		Timeout:    5 * time.Second,
		RatePerSec: 1000,
		RateBurst:  1000,
	}, nil)
}

func TestExtractHappyPath(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(completionWith(
			`{"items":[{"name":"Buke","category":"food","amount":"12,20","tax_code":"TVSH 18","page_number":2}]}`)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Extract(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	item := res.Items[0]
	assert.Equal(t, "Buke", item.Name)
	assert.Equal(t, constants.Groceries, item.Category)
	assert.InDelta(t, 12.20, item.Amount, 0.0001)
	assert.Equal(t, constants.TVSH18, item.TaxCode)
	assert.InDelta(t, 18, item.TaxPercentage, 0.0001)
	assert.Equal(t, 2, item.PageNumber)
	assert.NotEmpty(t, res.Raw)

	// both pages attached in order as data URLs
	msgs := gotBody["messages"].([]any)
	user := msgs[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 3) // prompt text + 2 images
	img1 := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	img2 := parts[2].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Contains(t, img1, "data:image/png;base64,")
	assert.NotEqual(t, img1, img2)
}

func TestExtractEmptyDocumentIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionWith(`{"items":[]}`)))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Extract(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestExtractRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Extract(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, extract.ErrUpstreamRateLimited))
}

func TestExtractUpstreamUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Extract(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, extract.ErrUpstreamUnavailable))
	// the adapter itself never retries; that is the caller's decision
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractNetworkErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	_, err := newTestClient(t, srv.URL).Extract(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, extract.ErrUpstreamUnavailable))
}

func TestExtractMalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionWith("the receipt appears to be blank, nothing to extract")))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Extract(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, extract.ErrMalformedResponse))
}

func TestExtractFencedContentRecovers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		content := "```json\n{\"items\":[{\"name\":\"Kafe\",\"amount\":1.0,\"page_number\":1}]}\n```"
		_, _ = w.Write([]byte(completionWith(content)))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Extract(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Kafe", res.Items[0].Name)
}

func TestExtractNoPages(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Extract(context.Background(), extract.Request{OwnerID: uuid.New()})
	assert.Error(t, err)
}
