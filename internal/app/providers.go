package app

import (
	"fmt"

	"github.com/darkroomhq/darkroom-backend/internal/config"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/providers/freepik"
	"github.com/darkroomhq/darkroom-backend/internal/providers/mock"
	"github.com/darkroomhq/darkroom-backend/internal/providers/nanobanana"
	"github.com/darkroomhq/darkroom-backend/internal/providers/studio"
)

// Provider selection is process-wide; config validation has already
// checked the names, so the defaults here only guard a missed case.

func resolveSegmenter(cfg *config.Config, log *logger.Logger) (providers.Segmenter, error) {
	switch cfg.Providers.Segment {
	case "freepik":
		return freepik.New(cfg.Providers, log)
	case "mock":
		log.Info("Segmentation provider: mock")
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown segment provider %q", cfg.Providers.Segment)
	}
}

func resolveGenerator(cfg *config.Config, log *logger.Logger) (providers.BackgroundGenerator, error) {
	switch cfg.Providers.Background {
	case "nanobanana":
		return nanobanana.New(cfg.Providers, log)
	case "studio":
		return studio.New(log), nil
	case "mock":
		log.Info("Background provider: mock")
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown background provider %q", cfg.Providers.Background)
	}
}
