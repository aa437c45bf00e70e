// Package freepik adapts the Freepik background-removal API to the
// Segmenter interface. The API takes a source URL and returns CDN
// links to the processed image; the binary mask is derived locally
// from the cutout's alpha channel.
package freepik

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/httpx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
)

const (
	defaultBaseURL     = "https://api.freepik.com"
	removeBackgroundEP = "/v1/ai/beta/remove-background"
	defaultMaxRetries  = 4

	// List price per segmentation call; the API does not report cost.
	segmentCostUSD = 0.01
)

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

func New(cfg config.ProvidersConfig, log *logger.Logger) (providers.Segmenter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.FreepikAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing freepik api key")
	}

	baseURL := strings.TrimSpace(cfg.FreepikBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &client{
		log:        log.With("service", "FreepikClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: defaultMaxRetries,
	}, nil
}

func (c *client) Name() string { return providers.NameFreepik }

type freepikHTTPError struct {
	StatusCode int
	Body       string
}

func (e *freepikHTTPError) Error() string {
	return fmt.Sprintf("freepik http %d: %s", e.StatusCode, e.Body)
}

func (e *freepikHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type removeBackgroundResponse struct {
	Original       string `json:"original"`
	HighResolution string `json:"high_resolution"`
	Preview        string `json:"preview"`
	URL            string `json:"url"`
}

func (c *client) RemoveBackground(ctx context.Context, in providers.SegmentInput) (*providers.SegmentResult, error) {
	src := strings.TrimSpace(in.SourceURL)
	if src == "" {
		return nil, fmt.Errorf("source url required")
	}

	form := url.Values{}
	form.Set("image_url", src)

	var resp removeBackgroundResponse
	if err := c.do(ctx, removeBackgroundEP, form, &resp); err != nil {
		return nil, err
	}

	cutoutURL := strings.TrimSpace(resp.HighResolution)
	if cutoutURL == "" {
		cutoutURL = strings.TrimSpace(resp.URL)
	}
	if cutoutURL == "" {
		return nil, fmt.Errorf("freepik response missing result url")
	}

	raw, err := c.downloadBytes(ctx, cutoutURL)
	if err != nil {
		return nil, fmt.Errorf("download cutout: %w", err)
	}

	img, format, err := imaging.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode cutout: %w", err)
	}

	cutout := raw
	if format != "png" {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.FormatPNG, 100); err != nil {
			return nil, fmt.Errorf("re-encode cutout: %w", err)
		}
		cutout = buf.Bytes()
	}

	var maskBuf bytes.Buffer
	if err := imaging.Encode(&maskBuf, imaging.AlphaMask(img), imaging.FormatPNG, 100); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}

	return &providers.SegmentResult{
		Cutout:  cutout,
		Mask:    maskBuf.Bytes(),
		CostUSD: segmentCostUSD,
		Metadata: map[string]interface{}{
			"provider":       providers.NameFreepik,
			"resultFormat":   format,
			"highResolution": resp.HighResolution != "",
		},
	}, nil
}

func (c *client) doOnce(ctx context.Context, path string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("x-freepik-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

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
		return resp, raw, &freepikHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, path string, form url.Values, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, form)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("freepik decode error: %w; raw=%s", uErr, string(raw))
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

		c.log.Warn("Freepik request retrying",
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

// downloadBytes fetches a result URL. These are signed CDN links, so
// no API key is attached.
func (c *client) downloadBytes(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &freepikHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
