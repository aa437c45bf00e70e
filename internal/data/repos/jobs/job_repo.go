package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	pkgerrors "github.com/darkroomhq/darkroom-backend/internal/pkg/errors"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
)

const (
	maxErrorMessageLen = 2000
	maxErrorStackLen   = 8000
)

// JobFilter narrows List. Zero values mean "any".
type JobFilter struct {
	Status types.Status
	SKU    string
	Theme  string
	Limit  int
	Offset int
}

// TransitionPatch carries the fields a stage persists together with its
// transition. Nil pointers and nil slices are left untouched.
type TransitionPatch struct {
	CutoutKey      *string
	MaskKey        *string
	BackgroundKeys []string
	CompositeKeys  []string
	DerivativeKeys []string
	ManifestKey    *string

	DownloadMS     *int64
	SegmentationMS *int64
	BackgroundsMS  *int64
	CompositingMS  *int64
	DerivativesMS  *int64
	ManifestMS     *int64
}

// Stats is the aggregate view served by the stats endpoint and scraped into
// gauges. MeanCompletionMS covers DONE jobs only.
type Stats struct {
	Total            int64                  `json:"total"`
	Active           int64                  `json:"active"`
	ByStatus         map[types.Status]int64 `json:"by_status"`
	TotalCostUSD     float64                `json:"total_cost_usd"`
	MeanCompletionMS int64                  `json:"mean_completion_ms"`
}

type JobRepo interface {
	Create(dbc dbctx.Context, job *types.Job) (*types.Job, bool, error)
	GetByID(dbc dbctx.Context, id string) (*types.Job, error)
	GetByIdentity(dbc dbctx.Context, sku, sha256, theme string) (*types.Job, error)
	List(dbc dbctx.Context, filter JobFilter) ([]*types.Job, int64, error)
	ClaimNew(dbc dbctx.Context, limit int, excludeIDs []string, retryBase time.Duration) ([]*types.Job, error)
	Transition(dbc dbctx.Context, id string, target types.Status, patch *TransitionPatch) (*types.Job, error)
	UpdateArtifacts(dbc dbctx.Context, id string, updates map[string]interface{}) error
	Fail(dbc dbctx.Context, id string, kind types.ErrorKind, message, stack string) (*types.Job, error)
	Retry(dbc dbctx.Context, id string) (*types.Job, error)
	IncrementAttempt(dbc dbctx.Context, id string) error
	AddCost(dbc dbctx.Context, id string, usd float64) error
	AppendProviderMetadata(dbc dbctx.Context, id string, entries map[string]interface{}) error
	Stats(dbc dbctx.Context) (*Stats, error)
	PruneTerminal(dbc dbctx.Context, olderThan time.Duration) (int64, error)
	HasReachedImageLimit(dbc dbctx.Context, sku string, maxPerSKU int) (bool, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

var terminalStatuses = []types.Status{types.StatusDone, types.StatusFailed}

// lockForUpdate takes a row lock on engines that support it. SQLite's write
// lock is database-wide already, and it rejects FOR UPDATE syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Create inserts the job or, when the (sku, sha256, theme) identity already
// exists, returns the existing row. The bool reports whether a row was
// created. Webhook retries hit the second path.
func (r *jobRepo) Create(dbc dbctx.Context, job *types.Job) (*types.Job, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, false, pkgerrors.ErrInvalidArgument
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.StatusNew
	}
	err := transaction.WithContext(dbc.Ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}
	if !IsUniqueViolation(err) {
		return nil, false, err
	}
	existing, getErr := r.GetByIdentity(dbc, job.SKU, job.SHA256, job.Theme)
	if getErr != nil {
		return nil, false, getErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id string) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) GetByIdentity(dbc dbctx.Context, sku, sha256, theme string) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sku == "" || sha256 == "" || theme == "" {
		return nil, nil
	}
	var job types.Job
	err := transaction.WithContext(dbc.Ctx).
		Where("sku = ? AND sha256 = ? AND theme = ?", sku, sha256, theme).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) List(dbc dbctx.Context, filter JobFilter) ([]*types.Job, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Model(&types.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SKU != "" {
		q = q.Where("sku = ?", filter.SKU)
	}
	if filter.Theme != "" {
		q = q.Where("theme = ?", filter.Theme)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.Job
	err := q.Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ClaimNew returns up to limit NEW jobs ready to run, oldest first. Jobs in
// excludeIDs (the scheduler's in-flight set) are skipped, as are retried
// jobs still inside their backoff window. Claiming does not mutate rows; the
// state machine has no claimed state, and a double pick resolves itself when
// the second worker's first transition is rejected.
func (r *jobRepo) ClaimNew(dbc dbctx.Context, limit int, excludeIDs []string, retryBase time.Duration) ([]*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		return nil, nil
	}
	q := transaction.WithContext(dbc.Ctx).
		Where("status = ?", types.StatusNew)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	var candidates []*types.Job
	// Oversample so backoff-gated retries do not starve the batch.
	if err := q.Order("created_at ASC").Limit(limit * 4).Find(&candidates).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]*types.Job, 0, limit)
	for _, job := range candidates {
		if job.Attempt > 0 {
			ready := job.UpdatedAt.Add(types.RetryDelay(job.Attempt-1, retryBase))
			if now.Before(ready) {
				continue
			}
		}
		out = append(out, job)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Transition moves the job to target atomically. The patch is applied to the
// row in the same transaction, then the move is checked against the state
// machine and the target's required fields. Either everything lands or the
// row is untouched.
func (r *jobRepo) Transition(dbc dbctx.Context, id string, target types.Status, patch *TransitionPatch) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	var result *types.Job
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		if err := lockForUpdate(txx).Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.ErrNotFound
			}
			return err
		}
		if !types.IsValidTransition(job.Status, target) {
			return &types.TransitionError{From: job.Status, To: target}
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":     target,
			"updated_at": now,
		}
		applyPatch(&job, patch, updates)

		if missing := types.ValidateFields(&job, target); len(missing) > 0 {
			return &types.MissingFieldsError{Target: target, Fields: missing}
		}
		if target == types.StatusDone {
			updates["completed_at"] = now
			job.CompletedAt = &now
		}

		res := txx.Model(&types.Job{}).
			Where("id = ? AND status = ?", id, job.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("job %s moved concurrently: %w", id, pkgerrors.ErrConflict)
		}
		job.Status = target
		job.UpdatedAt = now
		result = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyPatch copies set patch fields onto the in-memory row and into the
// column update map so validation sees exactly what will be persisted.
func applyPatch(job *types.Job, patch *TransitionPatch, updates map[string]interface{}) {
	if patch == nil {
		return
	}
	if patch.CutoutKey != nil {
		job.CutoutKey = *patch.CutoutKey
		updates["cutout_key"] = *patch.CutoutKey
	}
	if patch.MaskKey != nil {
		job.MaskKey = *patch.MaskKey
		updates["mask_key"] = *patch.MaskKey
	}
	if patch.BackgroundKeys != nil {
		job.BackgroundKeys = patch.BackgroundKeys
		updates["background_keys"] = job.BackgroundKeys
	}
	if patch.CompositeKeys != nil {
		job.CompositeKeys = patch.CompositeKeys
		updates["composite_keys"] = job.CompositeKeys
	}
	if patch.DerivativeKeys != nil {
		job.DerivativeKeys = patch.DerivativeKeys
		updates["derivative_keys"] = job.DerivativeKeys
	}
	if patch.ManifestKey != nil {
		job.ManifestKey = *patch.ManifestKey
		updates["manifest_key"] = *patch.ManifestKey
	}
	for _, f := range []struct {
		val *int64
		col string
		dst **int64
	}{
		{patch.DownloadMS, "download_ms", &job.DownloadMS},
		{patch.SegmentationMS, "segmentation_ms", &job.SegmentationMS},
		{patch.BackgroundsMS, "backgrounds_ms", &job.BackgroundsMS},
		{patch.CompositingMS, "compositing_ms", &job.CompositingMS},
		{patch.DerivativesMS, "derivatives_ms", &job.DerivativesMS},
		{patch.ManifestMS, "manifest_ms", &job.ManifestMS},
	} {
		if f.val != nil {
			*f.dst = f.val
			updates[f.col] = *f.val
		}
	}
}

// UpdateArtifacts writes artifact columns without moving status. Terminal
// rows are immutable.
func (r *jobRepo) UpdateArtifacts(dbc dbctx.Context, id string, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return pkgerrors.ErrInvalidArgument
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(dbc, id); err != nil {
			return err
		}
		return fmt.Errorf("job %s is terminal: %w", id, pkgerrors.ErrConflict)
	}
	return nil
}

// Fail moves any non-terminal job to FAILED with its error detail. Failing
// an already FAILED job is a no-op; failing a DONE job is rejected.
func (r *jobRepo) Fail(dbc dbctx.Context, id string, kind types.ErrorKind, message, stack string) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	if kind == "" || !types.KnownErrorKind(kind) {
		kind = types.KindUnknown
	}
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}
	if len(stack) > maxErrorStackLen {
		stack = stack[:maxErrorStackLen]
	}
	var result *types.Job
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		if err := lockForUpdate(txx).Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.ErrNotFound
			}
			return err
		}
		if job.Status == types.StatusFailed {
			result = &job
			return nil
		}
		if job.Status == types.StatusDone {
			return &types.TransitionError{From: job.Status, To: types.StatusFailed}
		}
		now := time.Now()
		err := txx.Model(&types.Job{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":        types.StatusFailed,
				"error_code":    kind,
				"error_message": message,
				"error_stack":   stack,
				"updated_at":    now,
			}).Error
		if err != nil {
			return err
		}
		job.Status = types.StatusFailed
		job.ErrorCode = kind
		job.ErrorMessage = message
		job.ErrorStack = stack
		job.UpdatedAt = now
		result = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Retry resets a FAILED job to NEW: error detail cleared, attempt bumped,
// artifact keys kept so reruns overwrite in place.
func (r *jobRepo) Retry(dbc dbctx.Context, id string) (*types.Job, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil, pkgerrors.ErrInvalidArgument
	}
	var result *types.Job
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		if err := lockForUpdate(txx).Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.ErrNotFound
			}
			return err
		}
		if job.Status != types.StatusFailed {
			return &types.TransitionError{From: job.Status, To: types.StatusNew}
		}
		now := time.Now()
		err := txx.Model(&types.Job{}).
			Where("id = ? AND status = ?", id, types.StatusFailed).
			Updates(map[string]interface{}{
				"status":        types.StatusNew,
				"error_code":    "",
				"error_message": "",
				"error_stack":   "",
				"completed_at":  nil,
				"attempt":       gorm.Expr("attempt + 1"),
				"updated_at":    now,
			}).Error
		if err != nil {
			return err
		}
		job.Status = types.StatusNew
		job.ErrorCode = ""
		job.ErrorMessage = ""
		job.ErrorStack = ""
		job.CompletedAt = nil
		job.Attempt++
		job.UpdatedAt = now
		result = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *jobRepo) IncrementAttempt(dbc dbctx.Context, id string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt":    gorm.Expr("attempt + 1"),
			"updated_at": time.Now(),
		}).Error
}

func (r *jobRepo) AddCost(dbc dbctx.Context, id string, usd float64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" || usd == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"cost_usd":   gorm.Expr("cost_usd + ?", usd),
			"updated_at": time.Now(),
		}).Error
}

// AppendProviderMetadata merges entries into the provider_metadata JSON
// column. Existing keys are overwritten.
func (r *jobRepo) AppendProviderMetadata(dbc dbctx.Context, id string, entries map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" || len(entries) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.Job
		if err := lockForUpdate(txx).Where("id = ?", id).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.ErrNotFound
			}
			return err
		}
		merged := datatypes.JSONMap{}
		for k, v := range job.ProviderMetadata {
			merged[k] = v
		}
		for k, v := range entries {
			merged[k] = v
		}
		return txx.Model(&types.Job{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"provider_metadata": merged,
				"updated_at":        time.Now(),
			}).Error
	})
}

func (r *jobRepo) Stats(dbc dbctx.Context) (*Stats, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	stats := &Stats{ByStatus: map[types.Status]int64{}}

	var rows []struct {
		Status types.Status
		N      int64
	}
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.N
		stats.Total += row.N
		if !row.Status.Terminal() {
			stats.Active += row.N
		}
	}

	var cost struct{ Total float64 }
	err = transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Select("coalesce(sum(cost_usd), 0) as total").
		Scan(&cost).Error
	if err != nil {
		return nil, err
	}
	stats.TotalCostUSD = cost.Total

	// Mean completion is computed in Go over a bounded sample so the query
	// stays portable across engines.
	var done []struct {
		CreatedAt   time.Time
		CompletedAt *time.Time
	}
	err = transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Select("created_at, completed_at").
		Where("status = ? AND completed_at IS NOT NULL", types.StatusDone).
		Order("completed_at DESC").
		Limit(5000).
		Scan(&done).Error
	if err != nil {
		return nil, err
	}
	if len(done) > 0 {
		var sum int64
		for _, d := range done {
			sum += d.CompletedAt.Sub(d.CreatedAt).Milliseconds()
		}
		stats.MeanCompletionMS = sum / int64(len(done))
	}
	return stats, nil
}

// PruneTerminal deletes DONE and FAILED rows last touched before the cutoff
// and reports how many went. Object store artifacts are left in place.
func (r *jobRepo) PruneTerminal(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if olderThan < 0 {
		olderThan = 0
	}
	cutoff := time.Now().Add(-olderThan)
	res := transaction.WithContext(dbc.Ctx).
		Where("status IN ? AND updated_at < ?", terminalStatuses, cutoff).
		Delete(&types.Job{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// HasReachedImageLimit reports whether sku already has maxPerSKU non-failed
// jobs. FAILED rows do not count against the cap; a zero or negative cap
// disables it.
func (r *jobRepo) HasReachedImageLimit(dbc dbctx.Context, sku string, maxPerSKU int) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if sku == "" || maxPerSKU <= 0 {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Job{}).
		Where("sku = ? AND status <> ?", sku, types.StatusFailed).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count >= int64(maxPerSKU), nil
}
