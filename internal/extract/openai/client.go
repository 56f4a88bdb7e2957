package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/extract"
)

// Extract implements extract.Extractor over an OpenAI-compatible
// chat/completions endpoint. Every page is attached in order as a base64
// data URL; the payload comes back as the items envelope and is validated
// and normalized before it leaves this package.
func (c *Client) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	if len(req.Pages) == 0 {
		return nil, eris.New("extract request has no pages")
	}

	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		zap.String("req_id", rid),
		zap.String("model", c.cfg.Model),
		zap.String("owner_id", req.OwnerID.String()),
		zap.Int("pages", len(req.Pages)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(extract.ErrUpstreamUnavailable, err.Error())
	}

	body := c.buildRequestBody(req)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"

	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("llm.extract.http_error",
			zap.String("req_id", rid),
			zap.Error(err),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, eris.Wrap(extract.ErrMalformedResponse, "decode completion envelope: "+err.Error())
	}
	if len(cc.Choices) == 0 {
		return nil, eris.Wrap(extract.ErrMalformedResponse, "no choices in completion")
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	items, err := extract.DecodePayload(content)
	if err != nil {
		c.log.Error("llm.extract.recover_failed",
			zap.String("req_id", rid),
			zap.Int("content_bytes", len(content)),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return nil, err
	}

	// Validate against the relaxed local schema; normalization clamps
	// off-enum categories and tax codes rather than rejecting them here.
	if doc, mErr := json.Marshal(map[string]any{"items": items}); mErr == nil {
		if vErr := extract.ValidateJSONAgainstSchema(extract.BuildItemsJSONSchema(nil), doc); vErr != nil {
			c.log.Warn("llm.extract.schema_violation",
				zap.String("req_id", rid),
				zap.Error(vErr),
			)
		}
	}

	normalized := extract.NormalizeItems(items, len(req.Pages))

	c.log.Info("llm.extract.ok",
		zap.String("req_id", rid),
		zap.Int("items_raw", len(items)),
		zap.Int("items", len(normalized)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return &extract.Result{Items: normalized, Raw: content}, nil
}

func (c *Client) buildRequestBody(req extract.Request) map[string]any {
	parts := []map[string]any{
		{"type": "text", "text": buildUserPrompt(len(req.Pages))},
	}
	for _, p := range req.Pages {
		parts = append(parts, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": pngDataURL(p.PNG),
			},
		})
	}

	schema := extract.BuildItemsJSONSchema(constants.AsStringSlice())
	return map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt()},
			{"role": "user", "content": parts},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, eris.Wrap(extract.ErrUpstreamUnavailable, err.Error())
	}
	defer func() {
		if cErr := resp.Body.Close(); cErr != nil {
			c.log.Warn("llm.http.body_close_error", zap.Error(cErr))
		}
	}()

	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, eris.Wrapf(extract.ErrUpstreamRateLimited, "status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, eris.Wrapf(extract.ErrUpstreamUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, eris.Wrapf(extract.ErrMalformedResponse, "status %d: %s", resp.StatusCode, truncate(raw, 512))
	}
	return raw, nil
}

func buildSystemPrompt() string {
	parts := []string{
		"You are a receipt line-item extractor (" + extract.PromptVersion + ").",
		"Return ONLY JSON that matches the provided JSON Schema: an object with an 'items' array.",
		"Each item is one purchased line with name, category, amount, date (YYYY-MM-DD), merchant, tax_code, page_number, quantity and unit.",
		"Allowed categories: " + strings.Join(constants.AsStringSlice(), ", ") + ".",
		"Tax codes: " + strings.Join(constants.TaxCodesAsStringSlice(), ", ") + "; use " + string(constants.PaTVSH) + " when no VAT is printed.",
		"page_number is the 1-based position of the image the item appears on.",
		"If the document has no recognizable line items, return {\"items\": []}.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

func buildUserPrompt(pageCount int) string {
	return fmt.Sprintf("Extract every purchased line item from the following %d receipt page(s), in page order.", pageCount)
}

func pngDataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
