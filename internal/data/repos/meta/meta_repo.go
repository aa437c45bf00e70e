package meta

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

// Keys written by the service. Readers treat absence as "never".
const (
	KeyLastPollAt       = "processor:last_poll_at"
	KeyLastPruneAt      = "jobs:last_prune_at"
	KeySchemaMigratedAt = "schema:migrated_at"
)

// MetaRepo is process-wide key/value state: poll watermarks and similar
// single-row facts that do not deserve their own table.
type MetaRepo interface {
	Set(dbc dbctx.Context, key, value string) error
	Get(dbc dbctx.Context, key string) (string, bool, error)
	SetTime(dbc dbctx.Context, key string, t time.Time) error
	GetTime(dbc dbctx.Context, key string) (time.Time, bool, error)
}

type metaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMetaRepo(db *gorm.DB, baseLog *logger.Logger) MetaRepo {
	return &metaRepo{
		db:  db,
		log: baseLog.With("repo", "MetaRepo"),
	}
}

func (r *metaRepo) Set(dbc dbctx.Context, key, value string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":      value,
				"updated_at": now,
			}),
		}).
		Create(&types.Metadata{Key: key, Value: value, UpdatedAt: now}).Error
}

func (r *metaRepo) Get(dbc dbctx.Context, key string) (string, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return "", false, nil
	}
	var row types.Metadata
	err := transaction.WithContext(dbc.Ctx).
		Where("key = ?", key).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return "", false, err
	}
	if row.Key == "" {
		return "", false, nil
	}
	return row.Value, true, nil
}

func (r *metaRepo) SetTime(dbc dbctx.Context, key string, t time.Time) error {
	return r.Set(dbc, key, t.UTC().Format(time.RFC3339Nano))
}

func (r *metaRepo) GetTime(dbc dbctx.Context, key string) (time.Time, bool, error) {
	raw, ok, err := r.Get(dbc, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, parseErr := time.Parse(time.RFC3339Nano, raw)
	if parseErr != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}
