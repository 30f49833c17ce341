// Package crawl runs the scheduling loop: selecting due resources from the
// catalog, probing them with bounded concurrency, detecting changes and
// dispatching analysis and notifications.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/datagouv/hydra-go/internal/analysis"
	"github.com/datagouv/hydra-go/internal/config"
	"github.com/datagouv/hydra-go/internal/models"
	"github.com/datagouv/hydra-go/internal/notify"
	"github.com/datagouv/hydra-go/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Crawler owns the scheduling loop and the per-resource check pipeline.
type Crawler struct {
	cfg      *config.Settings
	store    *storage.Store
	notifier notify.Notifier
	analyser *analysis.Analyser
	monitor  *Monitor
	client   *http.Client
}

// New assembles a crawler from its collaborators.
func New(cfg *config.Settings, store *storage.Store, notifier notify.Notifier, analyser *analysis.Analyser, monitor *Monitor) *Crawler {
	if monitor == nil {
		monitor = NewMonitor()
	}
	return &Crawler{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		analyser: analyser,
		monitor:  monitor,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Monitor exposes the crawler status for the admin API.
func (c *Crawler) Monitor() *Monitor {
	return c.monitor
}

// Run executes the scheduling loop until the context is cancelled, or for
// the given number of iterations when positive.
func (c *Crawler) Run(ctx context.Context, iterations int) error {
	c.monitor.setRunning(true)
	defer c.monitor.setRunning(false)
	log.Info().Int("batch_size", c.cfg.BatchSize).Int("concurrency", c.cfg.Concurrency).Msg("Crawler started")

	for i := 0; iterations <= 0 || i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// Per-batch infrastructure errors are logged and retried next cycle.
			log.Error().Err(err).Msg("Batch failed")
		}
		c.monitor.batchDone()

		if iterations > 0 && i == iterations-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.SleepBetweenBatches):
		}
	}
	return nil
}

// runBatch selects due resources and probes them through the worker pool.
// Resources are unique within a batch and batches do not overlap, so no two
// probes for the same resource are ever in flight together.
func (c *Crawler) runBatch(ctx context.Context) error {
	candidates, err := c.store.CheckCandidates(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	due := make([]storage.Candidate, 0, c.cfg.BatchSize)
	for _, cand := range candidates {
		if excludedURL(cand.Resource.URL, c.cfg.ExcludedPatterns) {
			continue
		}
		if !needsCheck(cand, now, c.cfg.CheckDelay()) {
			continue
		}
		due = append(due, cand)
		if len(due) >= c.cfg.BatchSize {
			break
		}
	}
	if len(due) == 0 {
		c.monitor.SetStatus("Idle, nothing to crawl")
		return nil
	}
	batchID := uuid.NewString()
	c.monitor.SetStatus(fmt.Sprintf("Crawling batch of %d urls", len(due)))
	log.Debug().Str("batch_id", batchID).Int("resources", len(due)).Msg("Batch started")

	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))
	var wg sync.WaitGroup
	for _, cand := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(res models.Resource) {
			defer wg.Done()
			defer sem.Release(1)
			if _, err := c.CheckResource(ctx, res, false); err != nil {
				log.Error().Err(err).Str("batch_id", batchID).Str("resource_id", res.ResourceID).Str("url", res.URL).Msg("Check failed")
			}
		}(cand.Resource)
	}
	wg.Wait()
	log.Debug().Str("batch_id", batchID).Msg("Batch finished")
	return nil
}

// CheckResource probes a single resource and runs the downstream pipeline:
// change detection, analysis, CSV materialization and notifications. force
// bypasses the change gating and always analyzes.
func (c *Crawler) CheckResource(ctx context.Context, res models.Resource, force bool) (*models.Check, error) {
	c.monitor.SetStatus("Crawling url " + res.URL)
	if err := c.store.SetResourceStatus(ctx, res.ResourceID, models.StatusCrawling); err != nil {
		return nil, err
	}
	backoff := false
	defer func() {
		status := ""
		if backoff {
			status = models.StatusBackoff
		}
		if err := c.store.SetResourceStatus(ctx, res.ResourceID, status); err != nil {
			log.Error().Err(err).Str("resource_id", res.ResourceID).Msg("Failed to reset resource status")
		}
	}()

	prev, err := c.store.LatestCheck(ctx, res.URL, res.ResourceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	check, available := c.probe(ctx, res)
	if err := c.store.AppendCheck(ctx, &check); err != nil {
		return nil, err
	}
	transportFailure := check.Status == nil
	c.monitor.countCheck(transportFailure)

	if transportFailure || check.HasStatus(http.StatusTooManyRequests) {
		backoff = true
		metricBackoffs.Inc()
	} else {
		if err := c.store.MarkChecked(ctx, res.ResourceID, check.CreatedAt); err != nil {
			log.Error().Err(err).Str("resource_id", res.ResourceID).Msg("Failed to mark resource checked")
		}
	}

	firstCheck := prev == nil
	now := time.Now()
	verdict := detectChange(prev, &check, res.HarvestModifiedAt, now)
	ctChanged := contentTypeChanged(prev, &check)
	stChanged := statusChanged(prev, &check)

	if verdict.Changed && verdict.DetectedAt != nil {
		c.recordDetection(ctx, &check, verdict.DetectedAt, verdict.Source)
	}

	checkDoc := buildCheckDoc(&check, available)
	announce := firstCheck || stChanged || ctChanged || (verdict.Decided && verdict.Changed)

	// Throttled or unreachable resources cannot be analyzed.
	if available == nil || !*available {
		if announce {
			c.notify(ctx, res, checkDoc)
		}
		return &check, nil
	}

	needsAnalysis := force || firstCheck || !verdict.Decided || verdict.Changed
	if !needsAnalysis {
		if announce {
			c.notify(ctx, res, checkDoc)
		}
		return &check, nil
	}

	analysisDoc, err := c.analyseCheck(ctx, res, &check, prev, &verdict)
	if err != nil {
		return &check, err
	}

	announce = announce || (verdict.Decided && verdict.Changed) || hasAnalysisError(analysisDoc)
	if !firstCheck && !force && !announce {
		return &check, nil
	}
	c.notify(ctx, res, checkDoc)
	if analysisDoc != nil {
		c.notify(ctx, res, analysisDoc)
	}
	return &check, nil
}

// analyseCheck downloads the resource, settles the checksum change signal
// and, for CSV content, materializes the table. It returns the analysis
// notification document, or nil when the analysis could not run.
func (c *Crawler) analyseCheck(ctx context.Context, res models.Resource, check, prev *models.Check, verdict *changeVerdict) (map[string]any, error) {
	c.setStatus(ctx, res.ResourceID, models.StatusAnalysingResource)
	c.monitor.countAnalysis()

	var prevChecksum *string
	if prev != nil {
		prevChecksum = prev.Checksum
	}
	result, err := c.analyser.AnalyseResource(ctx, check, prevChecksum)
	if err != nil {
		if errors.Is(err, analysis.ErrTooLarge) {
			return map[string]any{
				"analysis:error":          analysis.ErrTooLarge.Error(),
				"analysis:content-length": nil,
				"analysis:mime-type":      nil,
			}, nil
		}
		log.Warn().Err(err).Str("url", check.URL).Msg("Resource analysis failed")
		return nil, nil
	}
	defer os.Remove(result.LocalPath)

	if !verdict.Decided {
		if result.ChecksumChanged {
			detected := time.Now().UTC()
			verdict.Decided, verdict.Changed = true, true
			verdict.DetectedAt, verdict.Source = &detected, models.SourceComputedChecksum
			c.recordDetection(ctx, check, &detected, models.SourceComputedChecksum)
		} else if prevChecksum != nil {
			verdict.Decided, verdict.Changed = true, false
		}
	}

	doc := map[string]any{
		"analysis:content-length": result.Filesize,
		"analysis:mime-type":      result.MimeType,
		"analysis:checksum":       result.Checksum,
		"analysis:error":          nil,
	}
	if check.DetectedLastModifiedAt != nil {
		doc["analysis:last-modified-at"] = check.DetectedLastModifiedAt.Format(time.RFC3339)
		if check.DetectedLastModifiedSource != nil {
			doc["analysis:last-modified-detection"] = *check.DetectedLastModifiedSource
		}
	}

	if analysis.LooksLikeCSV(check.Header("content-type"), result.MimeType, check.URL) {
		c.setStatus(ctx, res.ResourceID, models.StatusAnalysingCSV)
		c.monitor.countParsing()
		for k, v := range c.analyser.AnalyseCSVFile(ctx, check, result.LocalPath) {
			doc[k] = v
		}
	}
	return doc, nil
}

func (c *Crawler) recordDetection(ctx context.Context, check *models.Check, detectedAt *time.Time, source string) {
	if err := c.store.UpdateCheckAnalysis(ctx, check.ID, nil, nil, nil, detectedAt, &source); err != nil {
		log.Error().Err(err).Int64("check_id", check.ID).Msg("Failed to record detected modification")
		return
	}
	check.DetectedLastModifiedAt = detectedAt
	check.DetectedLastModifiedSource = &source
}

func (c *Crawler) setStatus(ctx context.Context, resourceID, status string) {
	if err := c.store.SetResourceStatus(ctx, resourceID, status); err != nil {
		log.Error().Err(err).Str("resource_id", resourceID).Msg("Failed to set resource status")
	}
}

func (c *Crawler) notify(ctx context.Context, res models.Resource, doc map[string]any) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, res.DatasetID, res.ResourceID, doc); err != nil {
		return
	}
	metricNotifications.Inc()
}

// hasAnalysisError reports whether an analysis document carries a download or
// parsing failure. Failures are always announced, whatever the change verdict.
func hasAnalysisError(doc map[string]any) bool {
	if doc == nil {
		return false
	}
	for _, key := range []string{"analysis:error", "analysis:parsing:error"} {
		if v, ok := doc[key]; ok && v != nil {
			return true
		}
	}
	return false
}

// buildCheckDoc assembles the check:* notification fragment.
func buildCheckDoc(check *models.Check, available *bool) map[string]any {
	doc := map[string]any{
		"check:date":    check.CreatedAt.Format(time.RFC3339),
		"check:timeout": check.Timeout,
		"check:error":   nil,
	}
	if available != nil {
		doc["check:available"] = *available
	} else {
		doc["check:available"] = nil
	}
	if check.Status != nil {
		doc["check:status"] = *check.Status
	}
	if check.Error != nil {
		doc["check:error"] = *check.Error
	}
	if ct := parseContentType(check.Header("content-type")); ct != "" {
		doc["check:headers:content-type"] = ct
	}
	if cl := check.Header("content-length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			doc["check:headers:content-length"] = n
		}
	}
	return doc
}
