package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"erp-sync-service/internal/logger"
)

type ProductListQuery struct {
	Limit         int
	Offset        int
	Status        string // "A", "I" or "E"
	ModifiedSince string // "2006-01-02 15:04:05"
}

func (q ProductListQuery) values(includeStatus bool) url.Values {
	params := url.Values{}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(q.Offset))

	if includeStatus && q.Status != "" {
		params.Set("situacao", q.Status)
	}
	if q.ModifiedSince != "" {
		params.Set("dataAlteracao", q.ModifiedSince)
	}
	return params
}

// ListProducts fetches one page of the product list endpoint. Some upstream
// deployments reject the status filter combined with other filters; on that
// validation error the call is retried once without the filter.
func (c *Client) ListProducts(ctx context.Context, q ProductListQuery) (*ProductListPage, error) {
	var page ProductListPage
	err := c.getJSON(ctx, "/produtos", q.values(true), &page)
	if err == nil {
		return &page, nil
	}

	if q.Status != "" && IsValidation(err) && isStatusFilterError(err) {
		logger.Log.Warn("Product list rejected status filter, retrying without it",
			zap.String("status", q.Status),
		)
		page = ProductListPage{}
		if err := c.getJSON(ctx, "/produtos", q.values(false), &page); err != nil {
			return nil, err
		}
		return &page, nil
	}
	return nil, err
}

func isStatusFilterError(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	var parsed struct {
		Details []struct {
			Field string `json:"campo"`
		} `json:"detalhes"`
	}
	if json.Unmarshal([]byte(apiErr.Body), &parsed) == nil {
		for _, d := range parsed.Details {
			if d.Field == "situacao" {
				return true
			}
		}
	}
	return strings.Contains(apiErr.Body, "situacao")
}

// GetProduct fetches full product detail; the raw body is retained for replay.
func (c *Client) GetProduct(ctx context.Context, productID int64) (*ProductDetail, json.RawMessage, error) {
	path := fmt.Sprintf("/produtos/%d", productID)

	var raw json.RawMessage
	if err := c.getJSON(ctx, path, nil, &raw); err != nil {
		return nil, nil, err
	}

	var detail ProductDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, nil, fmt.Errorf("failed to decode product %d detail: %w", productID, err)
	}
	return &detail, raw, nil
}

// GetProductStock fetches live stock figures for one product.
func (c *Client) GetProductStock(ctx context.Context, productID int64) (*StockDetail, error) {
	path := fmt.Sprintf("/estoque/%d", productID)

	var stock StockDetail
	if err := c.getJSON(ctx, path, nil, &stock); err != nil {
		return nil, err
	}
	return &stock, nil
}
