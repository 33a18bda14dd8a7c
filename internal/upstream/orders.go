package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// defaultOrderFields asks the list endpoint to include the monetary fields it
// omits by default. Freight still comes back zero for most channels; the
// detail endpoint is the only reliable source (see the freight enrichment
// pass).
const defaultOrderFields = "valorFrete,valorTotalPedido,valorTotalProdutos,valorDesconto,valorOutrasDespesas"

type OrderListQuery struct {
	Limit     int
	Offset    int
	OrderBy   string // "asc" or "desc"
	Status    *int
	StartDate string // YYYY-MM-DD; with EndDate enables the range filter
	EndDate   string
	Fields    string
}

func (q OrderListQuery) values() url.Values {
	params := url.Values{}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(q.Offset))

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "desc"
	}
	params.Set("orderBy", orderBy)

	fields := q.Fields
	if fields == "" {
		fields = defaultOrderFields
	}
	params.Set("fields", fields)

	if q.Status != nil {
		params.Set("situacao", strconv.Itoa(*q.Status))
	}
	if q.StartDate != "" && q.EndDate != "" {
		params.Set("dataInicial", q.StartDate)
		params.Set("dataFinal", q.EndDate)
	}
	return params
}

// ListOrders fetches one page of the order list endpoint.
func (c *Client) ListOrders(ctx context.Context, q OrderListQuery) (*OrderListPage, error) {
	var page OrderListPage
	if err := c.getJSON(ctx, "/pedidos", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetOrder fetches full order detail, including line items and the reliable
// freight value. The raw body is returned alongside the decoded struct so the
// caller can retain it for replay.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*OrderDetail, json.RawMessage, error) {
	path := fmt.Sprintf("/pedidos/%d", orderID)

	var raw json.RawMessage
	if err := c.getJSON(ctx, path, nil, &raw); err != nil {
		return nil, nil, err
	}

	var env orderDetailEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to decode order %d detail: %w", orderID, err)
	}

	detail := env.OrderDetail
	if env.Nested != nil && len(detail.Items) == 0 {
		detail = *env.Nested
	}
	return &detail, raw, nil
}
