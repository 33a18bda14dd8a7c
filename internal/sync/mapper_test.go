package sync

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"2024-03-15", "2024-03-15", true},
		{"2024-03-15 14:22:01", "2024-03-15", true},
		{"15/03/2024", "2024-03-15", true},
		{"15/03/2024 14:22:01", "2024-03-15", true},
		{"2024-03-15T14:22:01-03:00", "2024-03-15", true},
		{"", "", false},
		{"not-a-date", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDate(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw=%q", tt.raw)
		if tt.ok {
			assert.Equal(t, tt.want, got.Format("2006-01-02"), "raw=%q", tt.raw)
		}
	}
}

func TestNormalizeChannel(t *testing.T) {
	assert.Equal(t, "Shopee", NormalizeChannel("shopee"))
	assert.Equal(t, "Shopee", NormalizeChannel("  Shopee  "))
	assert.Equal(t, "Mercado Livre", NormalizeChannel("MercadoLivre"))
	assert.Equal(t, "Mercado Livre", NormalizeChannel("Pedido Mercado Livre Full"))
	assert.Equal(t, "Magalu", NormalizeChannel("Magazine Luiza"))
	assert.Equal(t, "TikTok Shop", NormalizeChannel("tiktok"))
	assert.Equal(t, store.ChannelUnknown, NormalizeChannel(""))
	assert.Equal(t, store.ChannelUnknown, NormalizeChannel("Canal Misterioso"))
}

func TestStatusDescription(t *testing.T) {
	assert.Equal(t, "Faturado", StatusDescription(1))
	assert.Equal(t, "Enviado", StatusDescription(5))
	assert.Equal(t, "Desconhecido", StatusDescription(99))
}

func TestOrderRowFromSummary(t *testing.T) {
	status := 1
	item := upstream.OrderSummary{
		ID:            943588795,
		Number:        70412,
		Status:        &status,
		CreatedDate:   "2024-03-15",
		GrossTotal:    189.90,
		ProductsTotal: 157.40,
		Freight:       32.50,
		Discount:      0,
		Ecommerce:     &upstream.EcommerceInfo{Channel: "Shopee"},
		Customer:      &upstream.CustomerInfo{Name: "Maria", City: "Campinas", State: "SP"},
	}

	row := OrderRowFromSummary(item)
	assert.Equal(t, int64(943588795), row.ERPID)
	assert.Equal(t, int64(70412), row.OrderNumber.Int64)
	assert.Equal(t, int64(1), row.Status.Int64)
	assert.Equal(t, "2024-03-15", row.CreatedDate.Time.Format("2006-01-02"))
	assert.Equal(t, 32.50, row.FreightValue.Float64)
	assert.Equal(t, "Shopee", row.Channel.String)
	assert.Equal(t, "Campinas", row.City.String)
	assert.Equal(t, "SP", row.State.String)
	assert.NotEmpty(t, row.RawPayload)
}

func TestOrderRowChannelFallsBackToSentinel(t *testing.T) {
	row := OrderRowFromSummary(upstream.OrderSummary{ID: 1, CreatedDate: "2024-01-01"})
	assert.True(t, row.Channel.Valid)
	assert.Equal(t, store.ChannelUnknown, row.Channel.String)
}

func TestFilterOrdersByDate(t *testing.T) {
	items := []upstream.OrderSummary{
		{ID: 1, CreatedDate: "2024-03-14"},
		{ID: 2, CreatedDate: "2024-03-15"},
		{ID: 3, CreatedDate: "2024-03-18"},
		{ID: 4, CreatedDate: "garbage"},
	}
	start, _ := NormalizeDate("2024-03-15")
	end, _ := NormalizeDate("2024-03-17")

	kept := FilterOrdersByDate(items, start, end)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].ID)

	// No range keeps everything, unparseable dates included.
	assert.Len(t, FilterOrdersByDate(items, time.Time{}, time.Time{}), 4)
}

func TestFreightFromPayloadFallbackChain(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
		ok   bool
	}{
		{"top level number", `{"valorFrete": 32.5}`, 32.5, true},
		{"top level string", `{"valorFrete": "32,50"}`, 32.5, true},
		{"nested under pedido", `{"pedido": {"valorFrete": "1.234,56"}}`, 1234.56, true},
		{"transport block", `{"transporte": {"valorFrete": 17.9}}`, 17.9, true},
		{"legacy frete key", `{"frete": 9.9}`, 9.9, true},
		{"earlier key wins", `{"valorFrete": 5, "frete": 99}`, 5, true},
		{"absent", `{"valorTotalPedido": 100}`, 0, false},
		{"empty payload", ``, 0, false},
		{"not an object", `[1,2]`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FreightFromPayload(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayloadHasItems(t *testing.T) {
	assert.True(t, payloadHasItems(json.RawMessage(`{"itens":[{"quantidade":1}]}`)))
	assert.True(t, payloadHasItems(json.RawMessage(`{"pedido":{"itens":[{}]}}`)))
	assert.False(t, payloadHasItems(json.RawMessage(`{"itens":[]}`)))
	assert.False(t, payloadHasItems(json.RawMessage(`{"valorFrete":1}`)))
	assert.False(t, payloadHasItems(nil))
}

func TestItemRowsFromDetail(t *testing.T) {
	items := []upstream.OrderItemDetail{
		{
			Product:   &upstream.ProductRef{ID: 55, Code: "SKU-55", Description: "Camiseta"},
			Quantity:  2,
			UnitPrice: 19.9,
		},
		{ProductID: 77, Code: "SKU-77", Description: "Caneca", Quantity: 1, UnitPrice: 35, Total: 35},
	}
	rows := ItemRowsFromDetail(10, items)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(10), rows[0].OrderERPID)
	assert.Equal(t, int64(55), rows[0].ProductID.Int64)
	assert.Equal(t, "SKU-55", rows[0].ProductCode.String)
	assert.Equal(t, "Camiseta", rows[0].Description)
	assert.Equal(t, 39.8, rows[0].TotalPrice)

	assert.Equal(t, int64(77), rows[1].ProductID.Int64)
	assert.Equal(t, 35.0, rows[1].TotalPrice)
}

func TestProductRowFromSourcesPrecedence(t *testing.T) {
	price := 10.0
	detailPrice := 12.0
	stock := 5.0

	stored := &store.Product{
		ERPID:       99,
		Name:        "Old name",
		SKU:         sql.NullString{String: "OLD", Valid: true},
		StockOnHand: sql.NullFloat64{Float64: 1, Valid: true},
	}
	summary := upstream.ProductSummary{
		ID:         99,
		Name:       "Summary name",
		Code:       "NEW",
		Status:     "A",
		ModifiedAt: "2024-03-15 10:00:00",
		Prices:     &upstream.ProductPrices{Price: &price},
	}
	detail := &upstream.ProductDetail{
		ID:     99,
		Name:   "Detail name",
		Prices: &upstream.ProductPrices{Price: &detailPrice},
		Stock:  &upstream.ProductStockInfo{OnHand: &stock},
	}

	row := ProductRowFromSources(summary, detail, json.RawMessage(`{"id":99}`), stored)
	assert.Equal(t, "Detail name", row.Name)
	assert.Equal(t, "NEW", row.SKU.String)
	assert.Equal(t, 12.0, row.Price.Float64)
	assert.Equal(t, 5.0, row.StockOnHand.Float64)
	assert.Equal(t, "2024-03-15 10:00:00", row.UpstreamModifiedAt.Time.Format("2006-01-02 15:04:05"))
	assert.Equal(t, json.RawMessage(`{"id":99}`), row.RawPayload)

	// Without detail, summary wins but stored values survive the gaps.
	row = ProductRowFromSources(summary, nil, nil, stored)
	assert.Equal(t, "Summary name", row.Name)
	assert.Equal(t, 10.0, row.Price.Float64)
	assert.Equal(t, 1.0, row.StockOnHand.Float64)
}
