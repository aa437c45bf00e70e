package freepik

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
)

func cutoutPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 8; y < 24; y++ {
		for x := 8; x < 24; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 120, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestClient(t *testing.T, baseURL string) providers.Segmenter {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	seg, err := New(config.ProvidersConfig{
		FreepikAPIKey:  "test-key",
		FreepikBaseURL: baseURL,
		RequestTimeout: config.Duration{Duration: 5 * time.Second},
	}, log)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return seg
}

func TestRemoveBackground(t *testing.T) {
	fixture := cutoutPNG(t)

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/ai/beta/remove-background":
			if got := r.Header.Get("x-freepik-api-key"); got != "test-key" {
				t.Errorf("api key header: got=%q", got)
			}
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if got := r.FormValue("image_url"); got != "https://cdn.example.com/raw.jpg" {
				t.Errorf("image_url: got=%q", got)
			}
			fmt.Fprintf(w, `{"original":%q,"high_resolution":%q,"url":%q}`,
				"https://cdn.example.com/raw.jpg", ts.URL+"/cdn/hi.png", ts.URL+"/cdn/lo.png")
		case "/cdn/hi.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(fixture)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	seg := newTestClient(t, ts.URL)
	res, err := seg.RemoveBackground(context.Background(), providers.SegmentInput{
		SKU:       "SKU-001",
		SHA256:    strings.Repeat("a", 64),
		SourceURL: "https://cdn.example.com/raw.jpg",
	})
	if err != nil {
		t.Fatalf("remove background: %v", err)
	}

	cut, format, err := imaging.Decode(res.Cutout)
	if err != nil {
		t.Fatalf("decode cutout: %v", err)
	}
	if format != "png" {
		t.Fatalf("cutout format: want=png got=%q", format)
	}
	if !imaging.HasAlpha(cut) {
		t.Fatalf("cutout lost alpha")
	}

	mask, format, err := imaging.Decode(res.Mask)
	if err != nil {
		t.Fatalf("decode mask: %v", err)
	}
	if format != "png" {
		t.Fatalf("mask format: want=png got=%q", format)
	}
	r0, _, _, _ := mask.At(16, 16).RGBA()
	if r0>>8 != 0xFF {
		t.Fatalf("mask center: want white got=%02x", r0>>8)
	}

	if res.CostUSD != segmentCostUSD {
		t.Fatalf("cost: want=%v got=%v", segmentCostUSD, res.CostUSD)
	}
}

func TestRemoveBackgroundRetriesServerError(t *testing.T) {
	fixture := cutoutPNG(t)
	var calls atomic.Int32

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/ai/beta/remove-background":
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				http.Error(w, "upstream busy", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintf(w, `{"url":%q}`, ts.URL+"/cdn/out.png")
		case "/cdn/out.png":
			_, _ = w.Write(fixture)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer ts.Close()

	seg := newTestClient(t, ts.URL)
	if _, err := seg.RemoveBackground(context.Background(), providers.SegmentInput{
		SourceURL: "https://cdn.example.com/raw.jpg",
	}); err != nil {
		t.Fatalf("remove background after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("upstream calls: want=2 got=%d", got)
	}
}

func TestRemoveBackgroundDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid image_url"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	seg := newTestClient(t, ts.URL)
	_, err := seg.RemoveBackground(context.Background(), providers.SegmentInput{
		SourceURL: "https://cdn.example.com/raw.jpg",
	})
	if err == nil {
		t.Fatalf("expected error for 400")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls: want=1 got=%d", got)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	if _, err := New(config.ProvidersConfig{}, log); err == nil {
		t.Fatalf("expected error without api key")
	}
}
