package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	jobsrepo "github.com/darkroomhq/darkroom-backend/internal/data/repos/jobs"
	"github.com/darkroomhq/darkroom-backend/internal/imaging"
	"github.com/darkroomhq/darkroom-backend/internal/manifest"
	"github.com/darkroomhq/darkroom-backend/internal/pipeline"
	"github.com/darkroomhq/darkroom-backend/internal/pkg/dbctx"
	"github.com/darkroomhq/darkroom-backend/internal/platform/gcs"
	"github.com/darkroomhq/darkroom-backend/internal/platform/logger"
	"github.com/darkroomhq/darkroom-backend/internal/providers"
	"github.com/darkroomhq/darkroom-backend/internal/themes"

	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

// Source images larger than this fail the download stage.
const maxDownloadBytes = 32 << 20

// run is one worker's in-memory state: the evolving job row plus the
// stage outputs that never persist as columns, namely the rich
// derivative descriptors and the per-provider cost split the manifest
// embeds.
type run struct {
	job *types.Job
	log *logger.Logger

	derivatives []pipeline.Derivative
	segCost     float64
	bgCost      float64
	productID   string
}

func (r *run) ref() pipeline.Ref {
	return pipeline.Ref{SKU: r.job.SKU, SHA256: r.job.SHA256, Theme: r.job.Theme}
}

func (s *Scheduler) runJob(ctx context.Context, job *types.Job) {
	log := s.log.With("job_id", job.ID, "sku", job.SKU, "theme", job.Theme)
	start := time.Now()
	r := &run{job: job, log: log}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Worker panic", "panic", rec)
			s.failJob(ctx, r, types.Tag(types.KindUnknown, fmt.Errorf("panic: %v", rec)), string(debug.Stack()))
		}
	}()

	stages := []struct {
		name string
		kind types.ErrorKind
		fn   func(context.Context, *run) error
	}{
		{"segmentation", types.KindSegmentFailed, s.stageSegment},
		{"backgrounds", types.KindBackgroundFailed, s.stageBackgrounds},
		{"compositing", types.KindCompositeFailed, s.stageComposite},
		{"derivatives", types.KindDerivativeFailed, s.stageDerivatives},
		{"manifest", types.KindManifestFailed, s.stageManifest},
		{"shopify_push", types.KindUnknown, s.stagePush},
	}

	log.Info("Job started", "attempt", job.Attempt, "source_url", job.SourceURL)
	for _, st := range stages {
		stageStart := time.Now()
		err := st.fn(ctx, r)
		elapsed := time.Since(stageStart)
		if err != nil {
			err = stageTag(st.kind, err)
			s.metrics.ObserveStage(st.name, "error", elapsed)
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				// Shutdown interrupted the stage. The job keeps its
				// current status instead of a misleading FAILED row.
				log.Warn("Job interrupted by shutdown", "stage", st.name, "status", string(r.job.Status))
				return
			}
			log.Error("Stage failed",
				"stage", st.name,
				"elapsed_ms", elapsed.Milliseconds(),
				"error_code", string(types.KindOf(err)),
				"error", err,
			)
			s.failJob(ctx, r, err, "")
			return
		}
		s.metrics.ObserveStage(st.name, "ok", elapsed)
	}

	s.metrics.ObserveJobTerminal(types.StatusDone, time.Since(r.job.CreatedAt))
	log.Info("Job done",
		"elapsed_ms", time.Since(start).Milliseconds(),
		"cost_usd", r.job.CostUSD,
		"derivatives", len(r.derivatives),
		"manifest_key", r.job.ManifestKey,
	)
}

// stageSegment downloads the source, stores the original, runs
// background removal and lands NEW -> BG_REMOVED. The original's key
// and timing persist before the provider call so a later failure still
// leaves the upload discoverable.
func (s *Scheduler) stageSegment(ctx context.Context, r *run) error {
	job := r.job
	dbc := dbctx.Background(ctx)

	dlStart := time.Now()
	raw, err := s.download(ctx, job.SourceURL)
	if err != nil {
		return types.Tag(types.KindDownloadFailed, err)
	}
	downloadMS := time.Since(dlStart).Milliseconds()

	originalKey := gcs.OriginalKey(job.SKU, job.SHA256)
	if err := s.store.UploadBuffer(ctx, originalKey, raw, gcs.ContentTypeForKey(originalKey)); err != nil {
		return types.Tag(types.KindStorageFailed, fmt.Errorf("upload original: %w", err))
	}
	if err := s.jobs.UpdateArtifacts(dbc, job.ID, map[string]interface{}{
		"original_key": originalKey,
		"download_ms":  downloadMS,
	}); err != nil {
		return err
	}
	r.log.Info("Original stored", "stage", "segmentation", "key", originalKey, "bytes", len(raw), "download_ms", downloadMS)

	segStart := time.Now()
	res, err := s.segmenter.RemoveBackground(ctx, providers.SegmentInput{
		SKU:       job.SKU,
		SHA256:    job.SHA256,
		SourceURL: job.SourceURL,
		Image:     raw,
	})
	segElapsed := time.Since(segStart)
	s.metrics.ObserveProviderCall(s.segmenter.Name(), "remove_background", callStatus(err), segElapsed)
	if err != nil {
		return types.Tag(types.KindSegmentFailed, err)
	}
	segmentationMS := segElapsed.Milliseconds()

	cutoutKey := gcs.CutoutKey(job.SKU, job.SHA256)
	maskKey := gcs.MaskKey(job.SKU, job.SHA256)
	if err := s.store.UploadBuffer(ctx, cutoutKey, res.Cutout, gcs.ContentTypeForKey(cutoutKey)); err != nil {
		return types.Tag(types.KindStorageFailed, fmt.Errorf("upload cutout: %w", err))
	}
	if err := s.store.UploadBuffer(ctx, maskKey, res.Mask, gcs.ContentTypeForKey(maskKey)); err != nil {
		return types.Tag(types.KindStorageFailed, fmt.Errorf("upload mask: %w", err))
	}

	s.addCost(ctx, r, s.segmenter.Name(), "remove_background", res.CostUSD)
	r.segCost = res.CostUSD
	if len(res.Metadata) > 0 {
		if err := s.jobs.AppendProviderMetadata(dbc, job.ID, map[string]interface{}{"segmentation": res.Metadata}); err != nil {
			r.log.Warn("Provider metadata write failed", "stage", "segmentation", "error", err)
		}
	}

	updated, err := s.jobs.Transition(dbc, job.ID, types.StatusBGRemoved, &jobsrepo.TransitionPatch{
		CutoutKey:      &cutoutKey,
		MaskKey:        &maskKey,
		SegmentationMS: &segmentationMS,
	})
	if err != nil {
		return err
	}
	r.job = updated
	s.afterTransition(ctx, updated)
	r.log.Info("Stage complete", "stage", "segmentation", "status", string(updated.Status), "segmentation_ms", segmentationMS)
	return nil
}

// stageBackgrounds renders the configured number of themed backdrops
// at the cutout's dimensions and lands BG_REMOVED -> BACKGROUND_READY.
func (s *Scheduler) stageBackgrounds(ctx context.Context, r *run) error {
	job := r.job
	dbc := dbctx.Background(ctx)
	start := time.Now()

	theme, ok := themes.Lookup(s.log, job.Theme)
	if !ok {
		return types.Tag(types.KindValidation, fmt.Errorf("unknown theme %q", job.Theme))
	}

	cutRaw, err := s.store.DownloadBytes(ctx, job.CutoutKey)
	if err != nil {
		return types.Tag(types.KindStorageFailed, fmt.Errorf("fetch cutout: %w", err))
	}
	cut, _, err := imaging.Decode(cutRaw)
	if err != nil {
		return types.Tag(types.KindBackgroundFailed, fmt.Errorf("cutout: %w", err))
	}
	w, h := cut.Bounds().Dx(), cut.Bounds().Dy()

	keys := make([]string, 0, s.cfg.NumBackgrounds)
	var cost float64
	for variant := 0; variant < s.cfg.NumBackgrounds; variant++ {
		callStart := time.Now()
		res, err := s.generator.GenerateBackground(ctx, providers.BackgroundInput{
			Theme:   theme,
			Variant: variant,
			Width:   w,
			Height:  h,
			SKU:     job.SKU,
			SHA256:  job.SHA256,
		})
		s.metrics.ObserveProviderCall(s.generator.Name(), "generate_background", callStatus(err), time.Since(callStart))
		if err != nil {
			return types.Tag(types.KindBackgroundFailed, fmt.Errorf("variant %d: %w", variant, err))
		}
		key := gcs.BackgroundKey(job.Theme, job.SKU, job.SHA256, variant)
		if err := s.store.UploadBuffer(ctx, key, res.Image, gcs.ContentTypeForKey(key)); err != nil {
			return types.Tag(types.KindStorageFailed, fmt.Errorf("upload background %d: %w", variant, err))
		}
		keys = append(keys, key)
		cost += res.CostUSD
	}
	s.addCost(ctx, r, s.generator.Name(), "generate_background", cost)
	r.bgCost = cost

	if prompt := s.generator.ThemePrompt(theme); prompt != "" {
		if err := s.jobs.AppendProviderMetadata(dbc, job.ID, map[string]interface{}{
			"backgroundProvider": s.generator.Name(),
			"backgroundPrompt":   prompt,
		}); err != nil {
			r.log.Warn("Provider metadata write failed", "stage", "backgrounds", "error", err)
		}
	}

	elapsed := time.Since(start).Milliseconds()
	updated, err := s.jobs.Transition(dbc, job.ID, types.StatusBackgroundReady, &jobsrepo.TransitionPatch{
		BackgroundKeys: keys,
		BackgroundsMS:  &elapsed,
	})
	if err != nil {
		return err
	}
	r.job = updated
	s.afterTransition(ctx, updated)
	r.log.Info("Stage complete", "stage", "backgrounds", "status", string(updated.Status), "backgrounds", len(keys), "backgrounds_ms", elapsed)
	return nil
}

// stageComposite places the cutout over every backdrop in variant
// order and lands BACKGROUND_READY -> COMPOSITED. One composite per
// background, enforced again by the transition's field check.
func (s *Scheduler) stageComposite(ctx context.Context, r *run) error {
	job := r.job
	start := time.Now()

	keys := make([]string, 0, len(job.BackgroundKeys))
	for variant, bgKey := range job.BackgroundKeys {
		res, err := s.compositor.Compose(ctx, r.ref(), job.CutoutKey, bgKey, variant)
		if err != nil {
			return fmt.Errorf("variant %d: %w", variant, err)
		}
		keys = append(keys, res.Key)
	}

	elapsed := time.Since(start).Milliseconds()
	updated, err := s.jobs.Transition(dbctx.Background(ctx), job.ID, types.StatusComposited, &jobsrepo.TransitionPatch{
		CompositeKeys: keys,
		CompositingMS: &elapsed,
	})
	if err != nil {
		return err
	}
	r.job = updated
	s.afterTransition(ctx, updated)
	r.log.Info("Stage complete", "stage", "compositing", "status", string(updated.Status), "composites", len(keys), "compositing_ms", elapsed)
	return nil
}

// stageDerivatives renders the size x format matrix off every
// composite and lands COMPOSITED -> DERIVATIVES. Tolerated unit
// failures are recorded under provider_metadata.derivativeErrors.
func (s *Scheduler) stageDerivatives(ctx context.Context, r *run) error {
	job := r.job
	dbc := dbctx.Background(ctx)

	report, err := s.derivatives.RenderAll(ctx, r.ref(), job.CompositeKeys)
	if err != nil {
		return err
	}
	s.metrics.AddDerivativeOutcome(len(report.Derivatives), len(report.Failures))
	r.derivatives = report.Derivatives

	if len(report.Failures) > 0 {
		if err := s.jobs.AppendProviderMetadata(dbc, job.ID, map[string]interface{}{
			"derivativeErrors": report.Failures,
		}); err != nil {
			r.log.Warn("Provider metadata write failed", "stage", "derivatives", "error", err)
		}
	}

	elapsed := report.Duration.Milliseconds()
	updated, err := s.jobs.Transition(dbc, job.ID, types.StatusDerivatives, &jobsrepo.TransitionPatch{
		DerivativeKeys: report.Keys(),
		DerivativesMS:  &elapsed,
	})
	if err != nil {
		return err
	}
	r.job = updated
	s.afterTransition(ctx, updated)
	r.log.Info("Stage complete", "stage", "derivatives", "status", string(updated.Status),
		"produced", len(report.Derivatives), "failed", len(report.Failures), "derivatives_ms", elapsed)
	return nil
}

// stageManifest publishes the job manifest and lands DERIVATIVES ->
// SHOPIFY_PUSH. The mapped product id rides in so consumers see it
// without a second lookup.
func (s *Scheduler) stageManifest(ctx context.Context, r *run) error {
	job := r.job
	dbc := dbctx.Background(ctx)

	if s.maps != nil {
		m, err := s.maps.Get(dbc, job.SKU)
		if err != nil {
			r.log.Warn("Shopify mapping lookup failed", "error", err)
		} else if m != nil {
			r.productID = m.ShopifyProductID
		}
	}

	if _, err := s.manifests.Publish(ctx, job, manifest.Input{
		Derivatives:      r.derivatives,
		SegmentationCost: r.segCost,
		BackgroundCost:   r.bgCost,
		ShopifyProductID: r.productID,
	}); err != nil {
		return err
	}

	// Publish stamped ManifestKey and ManifestMS onto the row in memory.
	manifestKey := job.ManifestKey
	updated, err := s.jobs.Transition(dbc, job.ID, types.StatusShopifyPush, &jobsrepo.TransitionPatch{
		ManifestKey: &manifestKey,
		ManifestMS:  job.ManifestMS,
	})
	if err != nil {
		return err
	}
	r.job = updated
	s.afterTransition(ctx, updated)
	r.log.Info("Stage complete", "stage", "manifest", "status", string(updated.Status), "manifest_key", manifestKey)
	return nil
}

// stagePush lands SHOPIFY_PUSH -> DONE. The storefront push itself
// runs outside this service; the stage records the skip with the
// mapped product id so the external sync can pick it up.
func (s *Scheduler) stagePush(ctx context.Context, r *run) error {
	job := r.job
	dbc := dbctx.Background(ctx)

	note := map[string]interface{}{"pushed": false}
	if s.shopify.Enabled() {
		note["reason"] = "push deferred to external sync"
	} else {
		note["reason"] = "shopify not configured"
	}
	if r.productID != "" {
		note["productId"] = r.productID
	}
	if err := s.jobs.AppendProviderMetadata(dbc, job.ID, map[string]interface{}{"shopifyPush": note}); err != nil {
		r.log.Warn("Provider metadata write failed", "stage", "shopify_push", "error", err)
	}

	updated, err := s.jobs.Transition(dbc, job.ID, types.StatusDone, nil)
	if err != nil {
		return err
	}
	r.job = updated
	s.afterTransition(ctx, updated)
	r.log.Info("Stage complete", "stage", "shopify_push", "status", string(updated.Status))
	return nil
}

// failJob lands the FAILED row and its bookkeeping. The write runs on
// a detached context so a shutdown race cannot lose the error detail.
func (s *Scheduler) failJob(ctx context.Context, r *run, cause error, stack string) {
	dbc := dbctx.Background(context.WithoutCancel(ctx))
	failed, err := s.jobs.Fail(dbc, r.job.ID, types.KindOf(cause), cause.Error(), stack)
	if err != nil {
		r.log.Error("Fail write failed", "error", err, "cause", cause.Error())
		return
	}
	r.job = failed
	s.metrics.ObserveJobTerminal(types.StatusFailed, time.Since(failed.CreatedAt))
	s.afterTransition(ctx, failed)
}

func (s *Scheduler) addCost(ctx context.Context, r *run, provider, operation string, usd float64) {
	if usd <= 0 {
		return
	}
	if err := s.jobs.AddCost(dbctx.Background(ctx), r.job.ID, usd); err != nil {
		r.log.Warn("Cost write failed", "provider", provider, "error", err)
	}
	s.metrics.AddProviderCost(provider, usd)
	r.log.Info("Provider cost", "provider", provider, "operation", operation, "usd", usd)
}

func newDownloadClient() *http.Client {
	c := &http.Client{}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 6 {
			return errors.New("too many redirects")
		}
		return nil
	}
	return c
}

// download fetches the source image within the configured timeout.
func (s *Scheduler) download(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout.Duration)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "darkroom/1.0 (image pipeline)")
	req.Header.Set("Accept", "image/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d fetching source", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxDownloadBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxDownloadBytes {
		return nil, fmt.Errorf("source exceeds %d bytes", maxDownloadBytes)
	}
	if len(raw) == 0 {
		return nil, errors.New("source is empty")
	}
	return raw, nil
}

// stageTag applies the stage's default kind to untagged errors. Inner
// classifications, download and storage included, always win.
func stageTag(kind types.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var se *types.StageError
	if errors.As(err, &se) {
		return err
	}
	return types.Tag(kind, err)
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
