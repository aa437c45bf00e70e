// Package proof renders a labeled contact sheet of a job's composites
// for visual QA without walking presigned URLs one by one.
package proof

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	pkgerrors "github.com/darkroomhq/darkroom-backend/internal/pkg/errors"
)

const (
	cellSize    = 420
	gutter      = 16
	margin      = 24
	headerH     = 64
	labelH      = 30
	sheetCols   = 2
	jpegQuality = 90
)

var (
	fontOnce  sync.Once
	sheetFont *truetype.Font
	fontErr   error
)

func face(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		sheetFont, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return truetype.NewFace(sheetFont, &truetype.Options{Size: size}), nil
}

type Generator struct {
	log   *logger.Logger
	store gcs.Service
}

func NewGenerator(log *logger.Logger, store gcs.Service) *Generator {
	return &Generator{
		log:   log.With("service", "ProofGenerator"),
		store: store,
	}
}

// Render produces the JPEG contact sheet for one job. Unavailable
// composites get a placeholder cell instead of failing the sheet.
func (g *Generator) Render(ctx context.Context, job *types.Job) ([]byte, error) {
	keys := []string(job.CompositeKeys)
	if len(keys) == 0 {
		return nil, fmt.Errorf("job %s has no composites yet: %w", job.ID, pkgerrors.ErrNotFound)
	}

	cols := sheetCols
	if len(keys) < cols {
		cols = len(keys)
	}
	rows := (len(keys) + cols - 1) / cols
	width := margin*2 + cols*cellSize + (cols-1)*gutter
	height := margin*2 + headerH + rows*(cellSize+labelH) + (rows-1)*gutter

	dc := gg.NewContext(width, height)
	dc.SetRGB(0.97, 0.97, 0.96)
	dc.Clear()

	titleFace, err := face(22)
	if err != nil {
		return nil, fmt.Errorf("load sheet font: %w", err)
	}
	labelFace, err := face(14)
	if err != nil {
		return nil, fmt.Errorf("load sheet font: %w", err)
	}

	dc.SetFontFace(titleFace)
	dc.SetRGB(0.12, 0.12, 0.12)
	dc.DrawString(fmt.Sprintf("%s / %s", job.SKU, job.Theme), margin, margin+24)
	dc.SetFontFace(labelFace)
	dc.SetRGB(0.45, 0.45, 0.45)
	dc.DrawString(fmt.Sprintf("%s | %d composites | %s",
		shortSHA(job.SHA256), len(keys), job.UpdatedAt.Format("2006-01-02 15:04")),
		margin, margin+46)

	for i, key := range keys {
		col := i % cols
		row := i / cols
		x := float64(margin + col*(cellSize+gutter))
		y := float64(margin + headerH + row*(cellSize+labelH+gutter))
		g.drawCell(ctx, dc, labelFace, key, i, x, y)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dc.Image(), "jpg", jpegQuality); err != nil {
		return nil, fmt.Errorf("encode contact sheet: %w", err)
	}
	g.log.Info("Contact sheet rendered",
		"job_id", job.ID, "composites", len(keys), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func (g *Generator) drawCell(ctx context.Context, dc *gg.Context, labelFace font.Face, key string, index int, x, y float64) {
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, y, cellSize, cellSize)
	dc.Fill()

	var label string
	thumb, err := g.fetchThumb(ctx, key)
	if err != nil {
		g.log.Warn("Composite unavailable for sheet", "key", key, "error", err)
		dc.SetRGB(0.85, 0.85, 0.85)
		dc.DrawRectangle(x, y, cellSize, cellSize)
		dc.Fill()
		dc.SetFontFace(labelFace)
		dc.SetRGB(0.4, 0.4, 0.4)
		dc.DrawStringAnchored("unavailable", x+cellSize/2, y+cellSize/2, 0.5, 0.5)
		label = fmt.Sprintf("variant %d | unavailable", index)
	} else {
		b := thumb.Bounds()
		ox := x + float64(cellSize-b.Dx())/2
		oy := y + float64(cellSize-b.Dy())/2
		dc.DrawImage(thumb, int(ox), int(oy))
		label = fmt.Sprintf("variant %d | %dx%d", index, b.Dx(), b.Dy())
	}

	dc.SetFontFace(labelFace)
	dc.SetRGB(0.25, 0.25, 0.25)
	dc.DrawString(label, x+2, y+cellSize+20)
}

func (g *Generator) fetchThumb(ctx context.Context, key string) (*image.NRGBA, error) {
	data, err := g.store.DownloadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	return imaging.Inside(img, cellSize, cellSize), nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
