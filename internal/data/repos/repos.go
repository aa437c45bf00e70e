package repos

import (
	"gorm.io/gorm"

	"github.com/darkroomhq/darkroom-backend/internal/data/repos/jobs"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos/meta"
	"github.com/darkroomhq/darkroom-backend/internal/data/repos/shopify"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

type JobRepo = jobs.JobRepo
type ShopifyMapRepo = shopify.MapRepo
type MetaRepo = meta.MetaRepo

type JobFilter = jobs.JobFilter
type JobStats = jobs.Stats
type TransitionPatch = jobs.TransitionPatch

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo { return jobs.NewJobRepo(db, baseLog) }
func NewShopifyMapRepo(db *gorm.DB, baseLog *logger.Logger) ShopifyMapRepo {
	return shopify.NewMapRepo(db, baseLog)
}
func NewMetaRepo(db *gorm.DB, baseLog *logger.Logger) MetaRepo { return meta.NewMetaRepo(db, baseLog) }

// All bundles every repo for constructor wiring.
type All struct {
	Jobs       JobRepo
	ShopifyMap ShopifyMapRepo
	Meta       MetaRepo
}

func NewAll(db *gorm.DB, baseLog *logger.Logger) All {
	return All{
		Jobs:       NewJobRepo(db, baseLog),
		ShopifyMap: NewShopifyMapRepo(db, baseLog),
		Meta:       NewMetaRepo(db, baseLog),
	}
}
