package shopify

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	pkgerrors "github.com/darkroomhq/darkroom-backend/internal/pkg/errors"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

// MapRepo stores the sku to Shopify product id pairing the push stage reads.
type MapRepo interface {
	Upsert(dbc dbctx.Context, sku, productID string) (*types.ShopifyMap, error)
	Get(dbc dbctx.Context, sku string) (*types.ShopifyMap, error)
	List(dbc dbctx.Context, limit, offset int) ([]*types.ShopifyMap, int64, error)
	Delete(dbc dbctx.Context, sku string) error
}

type mapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMapRepo(db *gorm.DB, baseLog *logger.Logger) MapRepo {
	return &mapRepo{
		db:  db,
		log: baseLog.With("repo", "ShopifyMapRepo"),
	}
}

func (r *mapRepo) Upsert(dbc dbctx.Context, sku, productID string) (*types.ShopifyMap, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sku == "" || productID == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	now := time.Now()
	row := &types.ShopifyMap{
		SKU:              sku,
		ShopifyProductID: productID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"shopify_product_id": productID,
				"updated_at":         now,
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *mapRepo) Get(dbc dbctx.Context, sku string) (*types.ShopifyMap, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sku == "" {
		return nil, nil
	}
	var row types.ShopifyMap
	err := transaction.WithContext(dbc.Ctx).
		Where("sku = ?", sku).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.SKU == "" {
		return nil, nil
	}
	return &row, nil
}

func (r *mapRepo) List(dbc dbctx.Context, limit, offset int) ([]*types.ShopifyMap, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var total int64
	if err := transaction.WithContext(dbc.Ctx).Model(&types.ShopifyMap{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.ShopifyMap
	err := transaction.WithContext(dbc.Ctx).
		Order("sku ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *mapRepo) Delete(dbc dbctx.Context, sku string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sku == "" {
		return pkgerrors.ErrInvalidArgument
	}
	return transaction.WithContext(dbc.Ctx).
		Where("sku = ?", sku).
		Delete(&types.ShopifyMap{}).Error
}
