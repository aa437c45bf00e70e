package themes

import (
	"embed"
	"errors"
	"fmt"
	"image/color"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

const themesCatalogEnv = "DARKROOM_THEMES_YAML"

//go:embed themes.yaml
var themesCatalogFS embed.FS

// DefaultName is used when a webhook omits the theme field.
const DefaultName = "default"

// Theme drives background generation: the prompt feeds generative
// providers, the palette feeds the local gradient renderer.
type Theme struct {
	Name    string   `yaml:"name" json:"name"`
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Palette []string `yaml:"palette" json:"palette"`
}

// Size is one derivative output dimension. Fit "cover" crops to fill,
// "inside" shrinks to fit without upscaling.
type Size struct {
	Name   string `yaml:"name" json:"name"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Fit    string `yaml:"fit" json:"fit"`
}

// Format is one derivative output encoding.
type Format struct {
	Name    string `yaml:"name" json:"name"`
	Quality int    `yaml:"quality" json:"quality"`
}

// fallback catalog used when YAML is missing or invalid
var fallbackThemes = []Theme{
	{
		Name:    "default",
		Prompt:  "clean studio backdrop, seamless neutral paper, soft even lighting, product photography",
		Palette: []string{"#F5F5F4", "#E7E5E4", "#D6D3D1"},
	},
	{
		Name:    "studio-white",
		Prompt:  "pure white cyclorama studio, bright diffuse lighting, minimal shadows, e-commerce hero shot",
		Palette: []string{"#FFFFFF", "#FAFAFA", "#F0F0F0"},
	},
	{
		Name:    "slate",
		Prompt:  "dark slate stone surface, moody low-key lighting, single soft key light, dramatic product shot",
		Palette: []string{"#3B3F42", "#2C2F31", "#1E2021"},
	},
}

var fallbackSizes = []Size{
	{Name: "hero", Width: 2000, Height: 2000, Fit: "inside"},
	{Name: "pdp", Width: 1200, Height: 1200, Fit: "cover"},
	{Name: "thumb", Width: 400, Height: 400, Fit: "cover"},
}

var fallbackFormats = []Format{
	{Name: "jpg", Quality: 90},
	{Name: "webp", Quality: 85},
	{Name: "avif", Quality: 80},
}

type yamlCatalog struct {
	Catalog string     `yaml:"catalog"`
	Version int        `yaml:"version"`
	Render  yamlRender `yaml:"render"`
	Themes  []Theme    `yaml:"themes"`
}

type yamlRender struct {
	Sizes   []Size   `yaml:"sizes"`
	Formats []Format `yaml:"formats"`
}

type catalogRuntime struct {
	Themes  map[string]Theme
	Order   []string
	Sizes   []Size
	Formats []Format
}

var catalogOnce sync.Once
var catalogCache *catalogRuntime
var catalogErr error

func currentCatalog(log *logger.Logger) *catalogRuntime {
	catalogOnce.Do(func() {
		catalogCache, catalogErr = loadCatalog()
	})
	if catalogErr != nil {
		if log != nil {
			log.Warn("themes: catalog load failed; using fallback", "error", catalogErr)
		}
		return nil
	}
	return catalogCache
}

// Lookup returns the theme by name, or false when the catalog does not
// define it.
func Lookup(log *logger.Logger, name string) (Theme, bool) {
	name = strings.TrimSpace(name)
	if rt := currentCatalog(log); rt != nil {
		if t, ok := rt.Themes[name]; ok {
			return t, true
		}
		return Theme{}, false
	}
	for _, t := range fallbackThemes {
		if t.Name == name {
			return t, true
		}
	}
	return Theme{}, false
}

// Default returns the catalog's default theme.
func Default(log *logger.Logger) Theme {
	if t, ok := Lookup(log, DefaultName); ok {
		return t
	}
	return fallbackThemes[0]
}

// Names lists catalog themes in declaration order.
func Names(log *logger.Logger) []string {
	if rt := currentCatalog(log); rt != nil {
		return append([]string(nil), rt.Order...)
	}
	out := make([]string, 0, len(fallbackThemes))
	for _, t := range fallbackThemes {
		out = append(out, t.Name)
	}
	return out
}

// RenderSizes returns the derivative size matrix.
func RenderSizes(log *logger.Logger) []Size {
	if rt := currentCatalog(log); rt != nil && len(rt.Sizes) > 0 {
		return append([]Size(nil), rt.Sizes...)
	}
	return append([]Size(nil), fallbackSizes...)
}

// RenderFormats returns the derivative encoding matrix.
func RenderFormats(log *logger.Logger) []Format {
	if rt := currentCatalog(log); rt != nil && len(rt.Formats) > 0 {
		return append([]Format(nil), rt.Formats...)
	}
	return append([]Format(nil), fallbackFormats...)
}

// Colors parses the palette into concrete pixels, skipping entries that
// do not parse. An empty palette yields a single neutral grey.
func (t Theme) Colors() []color.NRGBA {
	out := make([]color.NRGBA, 0, len(t.Palette))
	for _, hex := range t.Palette {
		if c, ok := HexColor(hex); ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = append(out, color.NRGBA{R: 0xE5, G: 0xE5, B: 0xE5, A: 0xFF})
	}
	return out
}

// HexColor parses "#RRGGBB" (case-insensitive, leading # optional).
func HexColor(s string) (color.NRGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, false
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(strings.ToLower(s), "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: r, G: g, B: b, A: 0xFF}, true
}

func loadCatalog() (*catalogRuntime, error) {
	data, err := readCatalog()
	if err != nil {
		return nil, err
	}

	var spec yamlCatalog
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if err := validateCatalog(&spec); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(spec.Themes))
	byName := make(map[string]Theme, len(spec.Themes))
	for _, t := range spec.Themes {
		t.Name = strings.TrimSpace(t.Name)
		order = append(order, t.Name)
		byName[t.Name] = t
	}

	return &catalogRuntime{
		Themes:  byName,
		Order:   order,
		Sizes:   spec.Render.Sizes,
		Formats: spec.Render.Formats,
	}, nil
}

func readCatalog() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(themesCatalogEnv)); path != "" {
		return os.ReadFile(path)
	}
	return themesCatalogFS.ReadFile("themes.yaml")
}

func validateCatalog(spec *yamlCatalog) error {
	if spec == nil {
		return errors.New("missing catalog")
	}
	if strings.TrimSpace(spec.Catalog) != "darkroom_themes" {
		return fmt.Errorf("unexpected catalog: %s", spec.Catalog)
	}
	if len(spec.Themes) == 0 {
		return errors.New("no themes defined")
	}

	seen := map[string]bool{}
	hasDefault := false
	for _, t := range spec.Themes {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errors.New("theme name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate theme name: %s", name)
		}
		seen[name] = true
		if name == DefaultName {
			hasDefault = true
		}
		if strings.TrimSpace(t.Prompt) == "" {
			return fmt.Errorf("theme %s: prompt is required", name)
		}
		for _, hex := range t.Palette {
			if _, ok := HexColor(hex); !ok {
				return fmt.Errorf("theme %s: bad palette color %q", name, hex)
			}
		}
	}
	if !hasDefault {
		return fmt.Errorf("catalog must define theme %q", DefaultName)
	}

	sizeNames := map[string]bool{}
	for _, s := range spec.Render.Sizes {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return errors.New("render size name is required")
		}
		if sizeNames[name] {
			return fmt.Errorf("duplicate render size: %s", name)
		}
		sizeNames[name] = true
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("render size %s: dimensions must be positive", name)
		}
		switch s.Fit {
		case "cover", "inside":
		default:
			return fmt.Errorf("render size %s: unknown fit %q", name, s.Fit)
		}
	}

	formatNames := map[string]bool{}
	for _, f := range spec.Render.Formats {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return errors.New("render format name is required")
		}
		if formatNames[name] {
			return fmt.Errorf("duplicate render format: %s", name)
		}
		formatNames[name] = true
		switch name {
		case "jpg", "webp", "avif", "png":
		default:
			return fmt.Errorf("render format %s: no encoder available", name)
		}
		if f.Quality < 1 || f.Quality > 100 {
			return fmt.Errorf("render format %s: quality out of range", name)
		}
	}

	return nil
}
