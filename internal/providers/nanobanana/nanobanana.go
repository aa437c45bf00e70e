// Package nanobanana adapts Google's Gemini image model (the "nano
// banana" generator) to the BackgroundGenerator interface. Backdrops
// are synthesized from the theme prompt; the compositor resizes them
// to the cutout, so exact output dimensions are not required.
package nanobanana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/httpx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/themes"
)

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultModel      = "gemini-2.5-flash-image"
	defaultMaxRetries = 4

	// Flat per-image list price; the API reports tokens, not dollars.
	imageCostUSD = 0.039

	promptSuffix = "empty product photography backdrop, no subject, no objects, no text, photorealistic, soft focus, centered negative space"
)

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func New(cfg config.ProvidersConfig, log *logger.Logger) (providers.BackgroundGenerator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.NanobananaAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing nanobanana api key")
	}

	baseURL := strings.TrimSpace(cfg.NanobananaBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &client{
		log:        log.With("service", "NanoBananaClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: defaultMaxRetries,
	}, nil
}

func (c *client) Name() string { return providers.NameNanoBanana }

func (c *client) ThemePrompt(t themes.Theme) string {
	prompt := strings.TrimSpace(t.Prompt)
	if prompt == "" {
		prompt = "clean studio backdrop, seamless neutral paper, soft even lighting"
	}
	return prompt + ", " + promptSuffix
}

type nanoBananaHTTPError struct {
	StatusCode int
	Body       string
}

func (e *nanoBananaHTTPError) Error() string {
	return fmt.Sprintf("nanobanana http %d: %s", e.StatusCode, e.Body)
}

func (e *nanoBananaHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Seed               int      `json:"seed,omitempty"`
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

func (c *client) GenerateBackground(ctx context.Context, in providers.BackgroundInput) (*providers.BackgroundResult, error) {
	prompt := c.ThemePrompt(in.Theme)
	if in.Width > 0 && in.Height > 0 {
		prompt = fmt.Sprintf("%s, %dx%d aspect", prompt, in.Width, in.Height)
	}

	// Seed per variant keeps re-runs reproducible while still giving
	// each variant a distinct backdrop.
	req := generateContentRequest{
		Contents: []content{{Parts: []contentPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE"},
			Seed:               in.Variant + 1,
		},
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", c.model)

	var resp generateContentResponse
	if err := c.do(ctx, path, req, &resp); err != nil {
		return nil, err
	}

	raw, mimeType, err := firstInlineImage(resp)
	if err != nil {
		return nil, err
	}

	if _, _, err := imaging.DecodeConfig(raw); err != nil {
		return nil, fmt.Errorf("generated backdrop unreadable: %w", err)
	}

	return &providers.BackgroundResult{
		Image:   raw,
		CostUSD: imageCostUSD,
		Metadata: map[string]interface{}{
			"provider": providers.NameNanoBanana,
			"model":    c.model,
			"mimeType": mimeType,
			"prompt":   prompt,
			"seed":     in.Variant + 1,
		},
	}, nil
}

func firstInlineImage(resp generateContentResponse) ([]byte, string, error) {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			data := strings.TrimSpace(part.InlineData.Data)
			if data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(data)
			if err != nil || len(raw) == 0 {
				return nil, "", fmt.Errorf("decode backdrop base64: %w", err)
			}
			return raw, part.InlineData.MimeType, nil
		}
	}
	return nil, "", fmt.Errorf("no image in generation response")
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &nanoBananaHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("nanobanana decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("NanoBanana request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}
