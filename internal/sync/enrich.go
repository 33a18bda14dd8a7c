package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/logger"
	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"

	"go.uber.org/zap"
)

// FreightOptions scopes one enrichment run.
type FreightOptions struct {
	Start       *time.Time
	End         *time.Time
	NewestFirst bool
}

// FreightPassResult summarizes one pass over the unenriched backlog.
type FreightPassResult struct {
	Requested int
	Updated   int
	Failed    int
	Remaining int
}

// FreightEnricher re-fetches order details for rows whose list payload carried
// no usable freight, and persists the detail body so item data is preserved.
// The detail endpoint shares the order quota, so everything goes through the
// same executor the order sync uses.
type FreightEnricher struct {
	cfg      config.FreightConfig
	store    store.Store
	client   *upstream.Client
	exec     *Executor
	upserter *MergeUpserter
	items    *ItemSyncer
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewFreightEnricher(cfg config.FreightConfig, st store.Store, client *upstream.Client, exec *Executor, upserter *MergeUpserter, items *ItemSyncer) *FreightEnricher {
	return &FreightEnricher{
		cfg:      cfg,
		store:    st,
		client:   client,
		exec:     exec,
		upserter: upserter,
		items:    items,
		sleep:    sleepContext,
	}
}

// RunPasses sweeps the backlog in up to MaxPasses passes, stopping early when
// a pass finds nothing left. Individual detail failures never abort the run.
func (f *FreightEnricher) RunPasses(ctx context.Context, opts FreightOptions) (FreightPassResult, error) {
	var total FreightPassResult
	for pass := 1; pass <= f.cfg.MaxPasses; pass++ {
		result, err := f.runPass(ctx, opts)
		total.Requested += result.Requested
		total.Updated += result.Updated
		total.Failed += result.Failed
		total.Remaining = result.Remaining
		if err != nil {
			return total, err
		}

		logger.Log.Info("Freight enrichment pass finished",
			zap.Int("pass", pass),
			zap.Int("requested", result.Requested),
			zap.Int("updated", result.Updated),
			zap.Int("failed", result.Failed))

		if result.Requested == 0 || result.Remaining == 0 {
			break
		}
		// Heavy failure on a pass usually means upstream trouble; cool down
		// before the next sweep instead of hammering.
		if result.Failed > result.Updated {
			if err := f.sleep(ctx, 2*time.Duration(f.cfg.BatchDelayMs)*time.Millisecond); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (f *FreightEnricher) runPass(ctx context.Context, opts FreightOptions) (FreightPassResult, error) {
	var result FreightPassResult

	rows, err := f.store.ListOrdersNeedingFreight(ctx, opts.Start, opts.End, opts.NewestFirst, f.cfg.SelectLimit)
	if err != nil {
		return result, err
	}
	result.Requested = len(rows)
	if len(rows) == 0 {
		return result, nil
	}

	for i, order := range rows {
		if err := f.enrichOne(ctx, order); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			logger.Log.Warn("Freight enrichment failed for order",
				zap.Int64("erp_id", order.ERPID),
				zap.Error(err))
		} else {
			result.Updated++
		}

		if (i+1)%f.cfg.BatchSize == 0 && i+1 < len(rows) {
			if err := f.sleep(ctx, time.Duration(f.cfg.BatchDelayMs)*time.Millisecond); err != nil {
				return result, err
			}
		}
	}
	result.Remaining = result.Requested - result.Updated
	if result.Requested == f.cfg.SelectLimit {
		// A full page means the backlog probably extends past what we saw.
		result.Remaining += f.cfg.SelectLimit
	}
	return result, nil
}

func (f *FreightEnricher) enrichOne(ctx context.Context, order *store.Order) error {
	var detail *upstream.OrderDetail
	var raw []byte
	err := f.exec.Do(ctx, func(ctx context.Context) error {
		var callErr error
		detail, raw, callErr = f.client.GetOrder(ctx, order.ERPID)
		return callErr
	})
	if err != nil {
		return err
	}

	row := OrderRowFromDetail(detail, raw)
	if freight, ok := FreightFromPayload(raw); ok {
		row.FreightValue = sql.NullFloat64{Float64: freight, Valid: true}
	} else if detail.Freight != 0 {
		row.FreightValue = sql.NullFloat64{Float64: float64(detail.Freight), Valid: true}
	}
	row.IsEnriched = sql.NullBool{Bool: true, Valid: true}

	if err := f.upserter.UpsertOrders(ctx, []*store.Order{row}); err != nil {
		return err
	}

	// The detail payload carries the item lines; save them while in hand.
	if f.items != nil && len(detail.Items) > 0 {
		if _, err := f.items.SaveFromDetail(ctx, order.ERPID, detail.Items); err != nil {
			logger.Log.Warn("Failed to save items from order detail",
				zap.Int64("erp_id", order.ERPID),
				zap.Error(err))
		}
	}
	return nil
}

// ChannelResult summarizes one channel normalization sweep.
type ChannelResult struct {
	Scanned int
	Updated int
}

// ChannelNormalizer re-derives sales channels for rows stuck on the unknown
// sentinel, using only stored payloads. It never calls upstream.
type ChannelNormalizer struct {
	store store.Store
	limit int
}

func NewChannelNormalizer(st store.Store, limit int) *ChannelNormalizer {
	if limit <= 0 {
		limit = 500
	}
	return &ChannelNormalizer{store: st, limit: limit}
}

func (n *ChannelNormalizer) Run(ctx context.Context) (ChannelResult, error) {
	var result ChannelResult

	rows, err := n.store.ListOrdersNeedingChannel(ctx, n.limit)
	if err != nil {
		return result, err
	}
	result.Scanned = len(rows)

	for _, order := range rows {
		channel := channelFromPayload(order.RawPayload)
		if channel == store.ChannelUnknown {
			continue
		}
		if err := n.store.UpdateOrderChannel(ctx, order.ERPID, channel); err != nil {
			return result, err
		}
		result.Updated++
	}
	return result, nil
}

func channelFromPayload(raw []byte) string {
	if len(raw) == 0 {
		return store.ChannelUnknown
	}
	var doc struct {
		SalesChannel string                  `json:"canalVenda"`
		Ecommerce    *upstream.EcommerceInfo `json:"ecommerce"`
		Nested       *struct {
			SalesChannel string                  `json:"canalVenda"`
			Ecommerce    *upstream.EcommerceInfo `json:"ecommerce"`
		} `json:"pedido"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return store.ChannelUnknown
	}
	if ch := channelFromOrder(doc.SalesChannel, doc.Ecommerce); ch != store.ChannelUnknown {
		return ch
	}
	if doc.Nested != nil {
		return channelFromOrder(doc.Nested.SalesChannel, doc.Nested.Ecommerce)
	}
	return store.ChannelUnknown
}
