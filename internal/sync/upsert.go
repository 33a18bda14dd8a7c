package sync

import (
	"context"
	"fmt"

	"erp-sync-service/internal/metrics"
	"erp-sync-service/internal/store"
)

// MergeUpserter writes order batches with field-level merge rules so that a
// lite list payload never erases data a detail fetch already enriched.
type MergeUpserter struct {
	store   store.Store
	metrics *metrics.Registry
}

func NewMergeUpserter(st store.Store, reg *metrics.Registry) *MergeUpserter {
	return &MergeUpserter{store: st, metrics: reg}
}

// UpsertOrders merges incoming rows against what is stored and writes the
// result. If the pre-read fails the whole batch is aborted; merging against
// unknown state would risk clobbering enriched fields.
func (u *MergeUpserter) UpsertOrders(ctx context.Context, incoming []*store.Order) error {
	if len(incoming) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(incoming))
	for _, row := range incoming {
		ids = append(ids, row.ERPID)
	}
	existing, err := u.store.GetOrdersByERPIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("merge pre-read failed, aborting batch: %w", err)
	}
	byID := make(map[int64]*store.Order, len(existing))
	for _, row := range existing {
		byID[row.ERPID] = row
	}

	merged := make([]*store.Order, 0, len(incoming))
	for _, row := range incoming {
		merged = append(merged, mergeOrder(byID[row.ERPID], row))
	}
	if err := u.store.UpsertOrders(ctx, merged); err != nil {
		return err
	}
	if u.metrics != nil {
		u.metrics.OrdersUpserted.Add(float64(len(merged)))
	}
	return nil
}

// mergeOrder applies the field-level rules: enriched freight survives a zero,
// a concrete channel survives the unknown sentinel, geography survives
// absence, a detail payload with items survives a lite payload, and the
// enriched flag is sticky once true.
func mergeOrder(existing, incoming *store.Order) *store.Order {
	if existing == nil {
		return incoming
	}
	out := *incoming

	if existing.FreightValue.Valid && existing.FreightValue.Float64 > 0 {
		if !out.FreightValue.Valid || out.FreightValue.Float64 == 0 {
			out.FreightValue = existing.FreightValue
		}
	}

	if existing.Channel.Valid && existing.Channel.String != store.ChannelUnknown {
		if !out.Channel.Valid || out.Channel.String == store.ChannelUnknown {
			out.Channel = existing.Channel
		}
	}

	if !out.CustomerName.Valid && existing.CustomerName.Valid {
		out.CustomerName = existing.CustomerName
	}
	if !out.City.Valid && existing.City.Valid {
		out.City = existing.City
	}
	if !out.State.Valid && existing.State.Valid {
		out.State = existing.State
	}

	if payloadHasItems(existing.RawPayload) && !payloadHasItems(out.RawPayload) {
		out.RawPayload = existing.RawPayload
	}

	if existing.IsEnriched.Valid && existing.IsEnriched.Bool {
		out.IsEnriched = existing.IsEnriched
	}

	if !out.CreatedDate.Valid && existing.CreatedDate.Valid {
		out.CreatedDate = existing.CreatedDate
	}
	return &out
}
