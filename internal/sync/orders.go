package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/logger"
	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"

	"go.uber.org/zap"
)

const (
	OrderModeRange  = "range"
	OrderModeFull   = "full"
	OrderModeRecent = "recent"
)

// ErrRequestBudgetExhausted ends a job that would otherwise eat the whole
// upstream quota. The job still finishes cleanly with what it fetched.
var ErrRequestBudgetExhausted = errors.New("request budget exhausted")

// OrderJobParams is the persisted parameter block of one order sync job.
type OrderJobParams struct {
	Mode      string `json:"mode"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Days      int    `json:"days,omitempty"`
}

type dateRange struct {
	start time.Time
	end   time.Time
}

// windows slices [start, end] into inclusive sub-ranges of at most days days.
func windows(start, end time.Time, days int) []dateRange {
	if days <= 0 {
		days = 3
	}
	var out []dateRange
	for cursor := start; !cursor.After(end); cursor = cursor.AddDate(0, 0, days) {
		wEnd := cursor.AddDate(0, 0, days-1)
		if wEnd.After(end) {
			wEnd = end
		}
		out = append(out, dateRange{start: cursor, end: wEnd})
	}
	return out
}

// OrderSyncer runs full order sync jobs: windowed list fetches with merge
// upserts, followed by freight enrichment, channel normalization, and item
// backfill.
type OrderSyncer struct {
	cfg      config.OrdersConfig
	sched    config.SchedulerConfig
	store    store.Store
	client   *upstream.Client
	exec     *Executor
	upserter *MergeUpserter
	freight  *FreightEnricher
	channels *ChannelNormalizer
	items    *ItemSyncer

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewOrderSyncer(cfg config.OrdersConfig, sched config.SchedulerConfig, st store.Store, client *upstream.Client, exec *Executor, upserter *MergeUpserter, freight *FreightEnricher, channels *ChannelNormalizer, items *ItemSyncer) *OrderSyncer {
	return &OrderSyncer{
		cfg:      cfg,
		sched:    sched,
		store:    st,
		client:   client,
		exec:     exec,
		upserter: upserter,
		freight:  freight,
		channels: channels,
		items:    items,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// jobState tracks per-job counters; the executor's stats are process-wide.
type jobState struct {
	requests int
	budget   int
	rows     int
}

func (j *jobState) spend() error {
	j.requests++
	if j.requests > j.budget {
		return ErrRequestBudgetExhausted
	}
	return nil
}

// RunJob executes a previously created sync job to completion, updating the
// job row as it goes.
func (s *OrderSyncer) RunJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetSyncJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("sync job %s not found", jobID)
	}

	var params OrderJobParams
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return s.failJob(ctx, job, fmt.Errorf("invalid job params: %w", err))
		}
	}

	start, end, err := s.resolveRange(params)
	if err != nil {
		return s.failJob(ctx, job, err)
	}

	job.Status = store.JobStatusRunning
	job.StartedAt = sql.NullTime{Time: s.now().UTC(), Valid: true}
	if err := s.store.UpdateSyncJob(ctx, job); err != nil {
		return err
	}
	s.logJob(ctx, job.ID, "info", "Order sync started", map[string]interface{}{
		"mode":  params.Mode,
		"start": start.Format(dateLayout),
		"end":   end.Format(dateLayout),
	})

	state := &jobState{budget: s.cfg.MaxRequests}
	if params.Mode == OrderModeFull {
		state.budget = s.cfg.MaxRequestsFull
	}

	syncErr := s.syncRange(ctx, state, start, end)
	if syncErr != nil && !errors.Is(syncErr, ErrRequestBudgetExhausted) {
		job.TotalRequests = int64(state.requests)
		job.TotalRows = int64(state.rows)
		return s.failJob(ctx, job, syncErr)
	}
	if errors.Is(syncErr, ErrRequestBudgetExhausted) {
		s.logJob(ctx, job.ID, "warn", "Request budget exhausted, finishing with partial range", nil)
	}

	s.runEnrichment(ctx, job.ID, start, end)

	job.Status = store.JobStatusFinished
	job.FinishedAt = sql.NullTime{Time: s.now().UTC(), Valid: true}
	job.TotalRequests = int64(state.requests)
	job.TotalRows = int64(state.rows)
	if err := s.store.UpdateSyncJob(ctx, job); err != nil {
		return err
	}
	s.logJob(ctx, job.ID, "info", "Order sync finished", map[string]interface{}{
		"requests": state.requests,
		"rows":     state.rows,
	})
	return nil
}

func (s *OrderSyncer) resolveRange(params OrderJobParams) (time.Time, time.Time, error) {
	today := s.now().UTC()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	switch params.Mode {
	case OrderModeRecent, "":
		days := params.Days
		if days <= 0 {
			days = s.sched.OrdersRecentDays
		}
		if days <= 0 {
			days = 7
		}
		return today.AddDate(0, 0, -(days - 1)), today, nil
	case OrderModeFull:
		start := today.AddDate(-1, 0, 0)
		if params.StartDate != "" {
			parsed, ok := NormalizeDate(params.StartDate)
			if !ok {
				return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q", params.StartDate)
			}
			start = parsed
		}
		return start, today, nil
	case OrderModeRange:
		start, ok := NormalizeDate(params.StartDate)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q", params.StartDate)
		}
		end, ok := NormalizeDate(params.EndDate)
		if !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q", params.EndDate)
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("end_date before start_date")
		}
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown sync mode %q", params.Mode)
	}
}

func (s *OrderSyncer) syncRange(ctx context.Context, state *jobState, start, end time.Time) error {
	for _, window := range windows(start, end, s.cfg.WindowDays) {
		if err := s.syncWindow(ctx, state, window); err != nil {
			if upstream.IsValidation(err) {
				// Some deployments reject the date range filter outright.
				// Fall back to an unfiltered newest-first scan over the
				// whole requested range.
				logger.Log.Warn("Range filter rejected, falling back to unfiltered scan",
					zap.String("start", window.start.Format(dateLayout)),
					zap.String("end", window.end.Format(dateLayout)))
				return s.syncUnfiltered(ctx, state, start, end)
			}
			return err
		}
	}
	return nil
}

func (s *OrderSyncer) syncWindow(ctx context.Context, state *jobState, window dateRange) error {
	offset := 0
	for {
		if err := state.spend(); err != nil {
			return err
		}

		var page *upstream.OrderListPage
		err := s.exec.Do(ctx, func(ctx context.Context) error {
			var callErr error
			page, callErr = s.client.ListOrders(ctx, upstream.OrderListQuery{
				Limit:     s.cfg.PageSize,
				Offset:    offset,
				OrderBy:   "desc",
				StartDate: window.start.Format(dateLayout),
				EndDate:   window.end.Format(dateLayout),
			})
			return callErr
		})
		if err != nil {
			return err
		}

		// The upstream range filter is advisory; filter again locally.
		kept := FilterOrdersByDate(page.Items, window.start, window.end)
		if err := s.upsertSummaries(ctx, state, kept); err != nil {
			return err
		}

		offset += len(page.Items)
		if len(page.Items) < s.cfg.PageSize {
			return nil
		}
		if page.Pagination != nil && page.Pagination.Total > 0 && offset >= page.Pagination.Total {
			return nil
		}
		if err := s.sleep(ctx, time.Duration(s.cfg.PageDelayMs)*time.Millisecond); err != nil {
			return err
		}
	}
}

// syncUnfiltered scans the order list newest first with no date filter,
// keeping rows in range and stopping once a whole page predates the range.
func (s *OrderSyncer) syncUnfiltered(ctx context.Context, state *jobState, start, end time.Time) error {
	offset := 0
	for {
		if err := state.spend(); err != nil {
			return err
		}

		var page *upstream.OrderListPage
		err := s.exec.Do(ctx, func(ctx context.Context) error {
			var callErr error
			page, callErr = s.client.ListOrders(ctx, upstream.OrderListQuery{
				Limit:   s.cfg.PageSize,
				Offset:  offset,
				OrderBy: "desc",
			})
			return callErr
		})
		if err != nil {
			return err
		}
		if len(page.Items) == 0 {
			return nil
		}

		kept := FilterOrdersByDate(page.Items, start, end)
		if err := s.upsertSummaries(ctx, state, kept); err != nil {
			return err
		}

		if pagePredates(page.Items, start) {
			return nil
		}

		offset += len(page.Items)
		if len(page.Items) < s.cfg.PageSize {
			return nil
		}
		if err := s.sleep(ctx, time.Duration(s.cfg.PageDelayMs)*time.Millisecond); err != nil {
			return err
		}
	}
}

// pagePredates reports whether every parseable date on the page falls before
// start. On a newest-first scan that means nothing further back is in range.
func pagePredates(items []upstream.OrderSummary, start time.Time) bool {
	sawDate := false
	for _, item := range items {
		created, ok := NormalizeDate(item.CreatedDate)
		if !ok {
			continue
		}
		sawDate = true
		if !created.Before(start) {
			return false
		}
	}
	return sawDate
}

func (s *OrderSyncer) upsertSummaries(ctx context.Context, state *jobState, items []upstream.OrderSummary) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]*store.Order, 0, len(items))
	for _, item := range items {
		rows = append(rows, OrderRowFromSummary(item))
	}
	if err := s.upserter.UpsertOrders(ctx, rows); err != nil {
		return err
	}
	state.rows += len(rows)
	return nil
}

// runEnrichment runs the post-sync passes. Their failures degrade the job but
// never fail it; the next run picks up where they left off.
func (s *OrderSyncer) runEnrichment(ctx context.Context, jobID string, start, end time.Time) {
	freightResult, err := s.freight.RunPasses(ctx, FreightOptions{
		Start:       &start,
		End:         &end,
		NewestFirst: true,
	})
	if err != nil {
		s.logJob(ctx, jobID, "warn", "Freight enrichment aborted", map[string]interface{}{"error": err.Error()})
	} else {
		s.logJob(ctx, jobID, "info", "Freight enrichment finished", map[string]interface{}{
			"requested": freightResult.Requested,
			"updated":   freightResult.Updated,
			"failed":    freightResult.Failed,
		})
	}

	channelResult, err := s.channels.Run(ctx)
	if err != nil {
		s.logJob(ctx, jobID, "warn", "Channel normalization aborted", map[string]interface{}{"error": err.Error()})
	} else if channelResult.Updated > 0 {
		s.logJob(ctx, jobID, "info", "Channel normalization finished", map[string]interface{}{
			"scanned": channelResult.Scanned,
			"updated": channelResult.Updated,
		})
	}

	itemResult, err := s.items.BackfillRecent(ctx, 0, 0)
	if err != nil {
		s.logJob(ctx, jobID, "warn", "Item backfill aborted", map[string]interface{}{"error": err.Error()})
	} else if itemResult.OrdersFilled > 0 {
		s.logJob(ctx, jobID, "info", "Item backfill finished", map[string]interface{}{
			"orders_filled":  itemResult.OrdersFilled,
			"items_inserted": itemResult.ItemsInserted,
		})
	}
}

func (s *OrderSyncer) failJob(ctx context.Context, job *store.SyncJob, cause error) error {
	job.Status = store.JobStatusError
	job.FinishedAt = sql.NullTime{Time: s.now().UTC(), Valid: true}
	job.ErrorMessage = sql.NullString{String: cause.Error(), Valid: true}
	if err := s.store.UpdateSyncJob(ctx, job); err != nil {
		logger.Log.Error("Failed to persist job error state", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.logJob(ctx, job.ID, "error", "Order sync failed", map[string]interface{}{"error": cause.Error()})
	return cause
}

func (s *OrderSyncer) logJob(ctx context.Context, jobID, level, message string, meta map[string]interface{}) {
	entry := &store.SyncLogEntry{
		JobID:   sql.NullString{String: jobID, Valid: true},
		Level:   level,
		Message: message,
	}
	if meta != nil {
		if encoded, err := json.Marshal(meta); err == nil {
			entry.Meta = encoded
		}
	}
	if err := s.store.AppendSyncLog(ctx, entry); err != nil {
		logger.Log.Warn("Failed to append sync log entry", zap.Error(err))
	}
}
