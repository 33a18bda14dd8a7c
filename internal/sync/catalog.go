package sync

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/logger"
	"erp-sync-service/internal/metrics"
	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"

	"go.uber.org/zap"
)

type CatalogMode string

const (
	CatalogModeManual   CatalogMode = "manual"
	CatalogModeCron     CatalogMode = "cron"
	CatalogModeBackfill CatalogMode = "backfill"
)

// pressureUtilizationPct is the window usage above which the run sheds load.
const pressureUtilizationPct = 80

// CatalogOptions tunes one catalog run. Zero values take mode defaults.
type CatalogOptions struct {
	Mode         CatalogMode
	PageSize     int
	EnrichStock  *bool      // nil means mode default; a forced value survives pressure
	UpdatedSince *time.Time // explicit watermark override
}

// CatalogResult reports what one catalog run did and under what conditions.
type CatalogResult struct {
	Mode            CatalogMode   `json:"mode"`
	Pages           int           `json:"pages"`
	Synced          int           `json:"synced"`
	Failed          int           `json:"failed"`
	Requests        int           `json:"requests"`
	Throttled       int           `json:"throttled"`
	WindowPeakPct   float64       `json:"window_peak_pct"`
	PageSize        int           `json:"page_size"`
	Workers         int           `json:"workers"`
	StockEnrichment bool          `json:"stock_enrichment"`
	Pressure        bool          `json:"pressure"`
	TimedOut        bool          `json:"timed_out"`
	Duration        time.Duration `json:"duration_ns"`
	Watermark       *time.Time    `json:"watermark,omitempty"`
}

// CatalogSyncer keeps the local product catalog in step with upstream using an
// incremental modified-since watermark. It adapts page size, worker count,
// and stock enrichment to observed upstream pressure.
type CatalogSyncer struct {
	cfg     config.CatalogConfig
	store   store.Store
	client  *upstream.Client
	exec    *Executor
	metrics *metrics.Registry
	now     func() time.Time
}

func NewCatalogSyncer(cfg config.CatalogConfig, st store.Store, client *upstream.Client, exec *Executor, reg *metrics.Registry) *CatalogSyncer {
	return &CatalogSyncer{
		cfg:     cfg,
		store:   st,
		client:  client,
		exec:    exec,
		metrics: reg,
		now:     time.Now,
	}
}

// Run executes one catalog sync pass under the mode's timebox. Manual and
// cron runs handle a single page; backfill walks pages until the timebox or
// the page cap.
func (s *CatalogSyncer) Run(ctx context.Context, opts CatalogOptions) (*CatalogResult, error) {
	if opts.Mode == "" {
		opts.Mode = CatalogModeManual
	}
	startedAt := s.now()
	deadline := startedAt.Add(s.cfg.GetTimebox(string(opts.Mode)))
	baseline := s.exec.Stats()

	result := &CatalogResult{
		Mode:            opts.Mode,
		PageSize:        s.pageSize(opts),
		Workers:         s.workers(opts.Mode),
		StockEnrichment: s.stockDefault(opts),
	}

	watermark, err := s.resolveWatermark(ctx, opts)
	if err != nil {
		return result, err
	}
	latestSeen := watermark

	maxPages := 1
	if opts.Mode == CatalogModeBackfill {
		maxPages = s.cfg.BackfillMaxPages
		if maxPages <= 0 {
			maxPages = 10
		}
	}

	offset := 0
	var runErr error
	for page := 0; page < maxPages; page++ {
		if s.now().After(deadline) {
			result.TimedOut = true
			break
		}
		s.adaptToPressure(result, baseline, opts)

		var listPage *upstream.ProductListPage
		runErr = s.exec.Do(ctx, func(ctx context.Context) error {
			var callErr error
			listPage, callErr = s.client.ListProducts(ctx, upstream.ProductListQuery{
				Limit:         result.PageSize,
				Offset:        offset,
				ModifiedSince: formatWatermark(watermark),
			})
			return callErr
		})
		if runErr != nil {
			break
		}
		if len(listPage.Items) == 0 {
			break
		}
		result.Pages++

		seen := s.processPage(ctx, listPage.Items, result, deadline)
		if seen.After(latestSeen) {
			latestSeen = seen
		}

		offset += len(listPage.Items)
		if len(listPage.Items) < result.PageSize {
			break
		}
		if listPage.Pagination != nil && listPage.Pagination.Total > 0 && offset >= listPage.Pagination.Total {
			break
		}
		if result.TimedOut {
			break
		}
	}

	// Persist the watermark even when the run was cut short; only products
	// already processed can have advanced it, so nothing is skipped.
	if cursorErr := s.saveCursor(ctx, latestSeen); cursorErr != nil && runErr == nil {
		runErr = cursorErr
	}
	if !latestSeen.IsZero() {
		result.Watermark = &latestSeen
	}

	delta := diffStats(baseline, s.exec.Stats())
	result.Requests = delta.Requests
	result.Throttled = delta.Throttled
	result.WindowPeakPct = delta.WindowPeakPct
	result.Duration = s.now().Sub(startedAt)

	logger.Log.Info("Catalog sync finished",
		zap.String("mode", string(opts.Mode)),
		zap.Int("pages", result.Pages),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("requests", result.Requests),
		zap.Int("throttled", result.Throttled),
		zap.Bool("pressure", result.Pressure),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration))

	return result, runErr
}

// processPage fans page items out to the worker pool and returns the newest
// modification timestamp it saw.
func (s *CatalogSyncer) processPage(ctx context.Context, items []upstream.ProductSummary, result *CatalogResult, deadline time.Time) time.Time {
	queue := make(chan upstream.ProductSummary, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	if s.metrics != nil {
		s.metrics.CatalogWorkers.Set(float64(result.Workers))
	}

	var mu sync.Mutex
	var latest time.Time

	var wg sync.WaitGroup
	for w := 0; w < result.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				if s.now().After(deadline) {
					mu.Lock()
					result.TimedOut = true
					mu.Unlock()
					return
				}
				modified, err := s.syncProduct(ctx, item, result.StockEnrichment)
				mu.Lock()
				if err != nil {
					result.Failed++
				} else {
					result.Synced++
					if modified.After(latest) {
						latest = modified
					}
				}
				mu.Unlock()
				if err != nil && ctx.Err() != nil {
					return
				}
				if err != nil {
					logger.Log.Warn("Product sync failed",
						zap.Int64("erp_id", item.ID),
						zap.Error(err))
				}
			}
		}()
	}
	wg.Wait()
	return latest
}

// syncProduct fetches the detail (and optionally stock) for one summary row
// and upserts the merged record. Returns the row's modification timestamp.
func (s *CatalogSyncer) syncProduct(ctx context.Context, item upstream.ProductSummary, enrichStock bool) (time.Time, error) {
	var detail *upstream.ProductDetail
	var raw []byte
	err := s.exec.Do(ctx, func(ctx context.Context) error {
		var callErr error
		detail, raw, callErr = s.client.GetProduct(ctx, item.ID)
		return callErr
	})
	if err != nil {
		return time.Time{}, err
	}

	stored, err := s.store.GetProduct(ctx, item.ID)
	if err != nil {
		return time.Time{}, err
	}
	row := ProductRowFromSources(item, detail, raw, stored)

	if enrichStock {
		var stock *upstream.StockDetail
		err := s.exec.Do(ctx, func(ctx context.Context) error {
			var callErr error
			stock, callErr = s.client.GetProductStock(ctx, item.ID)
			return callErr
		})
		if err != nil {
			// The detail data is still worth keeping.
			logger.Log.Warn("Stock enrichment failed",
				zap.Int64("erp_id", item.ID),
				zap.Error(err))
		} else {
			ApplyStock(row, stock)
		}
	}

	if err := s.store.UpsertProduct(ctx, row); err != nil {
		return time.Time{}, err
	}
	if s.metrics != nil {
		s.metrics.ProductsUpserted.Inc()
	}
	if row.UpstreamModifiedAt.Valid {
		return row.UpstreamModifiedAt.Time, nil
	}
	return time.Time{}, nil
}

// adaptToPressure sheds load when the run has seen throttling, backoff, or a
// hot rate window since it started.
func (s *CatalogSyncer) adaptToPressure(result *CatalogResult, baseline Stats, opts CatalogOptions) {
	delta := diffStats(baseline, s.exec.Stats())
	util := s.exec.Utilization()

	pressure := delta.Throttled > 0 || delta.BackoffTotal > 0 || util > pressureUtilizationPct
	if !pressure {
		return
	}
	result.Pressure = true

	switch {
	case result.PageSize > 50:
		result.PageSize = 50
	case result.PageSize > 25:
		result.PageSize = 25
	case result.PageSize > 10:
		result.PageSize = 10
	}
	if result.Workers > 1 {
		result.Workers = result.Workers / 2
		if result.Workers < 1 {
			result.Workers = 1
		}
	}
	if opts.EnrichStock == nil || !*opts.EnrichStock {
		result.StockEnrichment = false
	}

	logger.Log.Warn("Upstream pressure detected, shedding load",
		zap.Int("page_size", result.PageSize),
		zap.Int("workers", result.Workers),
		zap.Bool("stock_enrichment", result.StockEnrichment),
		zap.Float64("window_utilization_pct", util))
}

func (s *CatalogSyncer) pageSize(opts CatalogOptions) int {
	if opts.PageSize > 0 {
		return opts.PageSize
	}
	if opts.Mode == CatalogModeCron {
		if s.cfg.CronPageSize > 0 {
			return s.cfg.CronPageSize
		}
		return 8
	}
	if s.cfg.PageSize > 0 {
		return s.cfg.PageSize
	}
	return 100
}

func (s *CatalogSyncer) workers(mode CatalogMode) int {
	if mode == CatalogModeCron {
		return 1
	}
	if s.cfg.Workers > 0 {
		return s.cfg.Workers
	}
	return 4
}

func (s *CatalogSyncer) stockDefault(opts CatalogOptions) bool {
	if opts.EnrichStock != nil {
		return *opts.EnrichStock
	}
	return opts.Mode != CatalogModeCron
}

// resolveWatermark picks the modified-since cutoff: an explicit override wins,
// then the persisted cursor, then the newest stored modification minus the
// safety margin.
func (s *CatalogSyncer) resolveWatermark(ctx context.Context, opts CatalogOptions) (time.Time, error) {
	if opts.UpdatedSince != nil {
		return opts.UpdatedSince.UTC(), nil
	}

	cursor, err := s.store.GetSyncCursor(ctx, s.cfg.CursorKey)
	if err != nil {
		return time.Time{}, err
	}
	if cursor != nil && cursor.UpdatedSince.Valid {
		return cursor.UpdatedSince.Time.UTC(), nil
	}

	maxModified, err := s.store.MaxProductModifiedAt(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if maxModified.Valid {
		return maxModified.Time.UTC().Add(-s.cfg.GetCursorSafetyMargin()), nil
	}
	// Empty catalog: no watermark means a from-scratch pull.
	return time.Time{}, nil
}

func (s *CatalogSyncer) saveCursor(ctx context.Context, latestSeen time.Time) error {
	if latestSeen.IsZero() {
		return nil
	}
	cursor := &store.SyncCursor{
		Key:                s.cfg.CursorKey,
		UpdatedSince:       sql.NullTime{Time: latestSeen, Valid: true},
		LatestSeenModified: sql.NullTime{Time: latestSeen, Valid: true},
	}
	return s.store.SaveSyncCursor(ctx, cursor)
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timestampLayout)
}

func diffStats(before, after Stats) Stats {
	return Stats{
		Requests:      after.Requests - before.Requests,
		Throttled:     after.Throttled - before.Throttled,
		BackoffTotal:  after.BackoffTotal - before.BackoffTotal,
		MaxBackoff:    after.MaxBackoff,
		WindowPeakPct: after.WindowPeakPct,
	}
}
