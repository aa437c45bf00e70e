package themes

import (
	"testing"
)

func TestLookupEmbeddedCatalog(t *testing.T) {
	th, ok := Lookup(nil, "default")
	if !ok {
		t.Fatalf("Lookup(default): want=true got=false")
	}
	if th.Prompt == "" {
		t.Fatalf("Lookup(default): empty prompt")
	}
	if len(th.Palette) == 0 {
		t.Fatalf("Lookup(default): empty palette")
	}

	if _, ok := Lookup(nil, "no-such-theme"); ok {
		t.Fatalf("Lookup(no-such-theme): want=false got=true")
	}
}

func TestRenderMatrix(t *testing.T) {
	sizes := RenderSizes(nil)
	byName := map[string]Size{}
	for _, s := range sizes {
		byName[s.Name] = s
	}
	hero, ok := byName["hero"]
	if !ok || hero.Width != 2000 || hero.Fit != "inside" {
		t.Fatalf("hero size: got %+v", hero)
	}
	pdp, ok := byName["pdp"]
	if !ok || pdp.Width != 1200 || pdp.Height != 1200 || pdp.Fit != "cover" {
		t.Fatalf("pdp size: got %+v", pdp)
	}
	thumb, ok := byName["thumb"]
	if !ok || thumb.Width != 400 || thumb.Fit != "cover" {
		t.Fatalf("thumb size: got %+v", thumb)
	}

	formats := RenderFormats(nil)
	quality := map[string]int{}
	for _, f := range formats {
		quality[f.Name] = f.Quality
	}
	if quality["jpg"] != 90 || quality["webp"] != 85 || quality["avif"] != 80 {
		t.Fatalf("format qualities: got %v", quality)
	}
}

func TestValidateCatalog(t *testing.T) {
	valid := func() *yamlCatalog {
		return &yamlCatalog{
			Catalog: "darkroom_themes",
			Version: 1,
			Render: yamlRender{
				Sizes:   []Size{{Name: "hero", Width: 100, Height: 100, Fit: "inside"}},
				Formats: []Format{{Name: "jpg", Quality: 90}},
			},
			Themes: []Theme{{Name: "default", Prompt: "p", Palette: []string{"#FFFFFF"}}},
		}
	}

	if err := validateCatalog(valid()); err != nil {
		t.Fatalf("validateCatalog(valid): %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*yamlCatalog)
	}{
		{"wrong catalog", func(c *yamlCatalog) { c.Catalog = "other" }},
		{"no themes", func(c *yamlCatalog) { c.Themes = nil }},
		{"duplicate theme", func(c *yamlCatalog) { c.Themes = append(c.Themes, c.Themes[0]) }},
		{"missing default", func(c *yamlCatalog) { c.Themes[0].Name = "x" }},
		{"empty prompt", func(c *yamlCatalog) { c.Themes[0].Prompt = " " }},
		{"bad palette", func(c *yamlCatalog) { c.Themes[0].Palette = []string{"red"} }},
		{"bad fit", func(c *yamlCatalog) { c.Render.Sizes[0].Fit = "stretch" }},
		{"zero width", func(c *yamlCatalog) { c.Render.Sizes[0].Width = 0 }},
		{"unknown format", func(c *yamlCatalog) { c.Render.Formats[0].Name = "tiff" }},
		{"quality out of range", func(c *yamlCatalog) { c.Render.Formats[0].Quality = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			if err := validateCatalog(c); err == nil {
				t.Fatalf("validateCatalog(%s): want error, got nil", tc.name)
			}
		})
	}
}

func TestHexColor(t *testing.T) {
	c, ok := HexColor("#FF8000")
	if !ok || c.R != 0xFF || c.G != 0x80 || c.B != 0x00 || c.A != 0xFF {
		t.Fatalf("HexColor(#FF8000): got %+v ok=%v", c, ok)
	}
	if _, ok := HexColor("FFF"); ok {
		t.Fatalf("HexColor(FFF): want=false got=true")
	}
	if _, ok := HexColor("#GGGGGG"); ok {
		t.Fatalf("HexColor(#GGGGGG): want=false got=true")
	}
}

func TestThemeColorsFallback(t *testing.T) {
	th := Theme{Name: "x", Palette: []string{"notacolor"}}
	colors := th.Colors()
	if len(colors) != 1 {
		t.Fatalf("Colors fallback: want 1 color, got %d", len(colors))
	}
}
