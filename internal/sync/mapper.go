package sync

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"02/01/2006 15:04:05",
}

// NormalizeDate parses the creation date formats the upstream emits, including
// the dd/mm/yyyy legacy form. The result is truncated to day precision in UTC.
func NormalizeDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseUpstreamTimestamp parses the "dataAlteracao" style timestamps.
func ParseUpstreamTimestamp(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// knownChannels is the closed set of normalized sales channel names. Anything
// that does not map here collapses to store.ChannelUnknown.
var knownChannels = map[string]string{
	"shopee":           "Shopee",
	"mercado livre":    "Mercado Livre",
	"mercadolivre":     "Mercado Livre",
	"meli":             "Mercado Livre",
	"amazon":           "Amazon",
	"magalu":           "Magalu",
	"magazine luiza":   "Magalu",
	"shein":            "Shein",
	"tiktok":           "TikTok Shop",
	"tiktok shop":      "TikTok Shop",
	"kwai":             "Kwai Shop",
	"kwai shop":        "Kwai Shop",
	"loja integrada":   "Loja Integrada",
	"nuvemshop":        "Nuvemshop",
	"tray":             "Tray",
	"shopify":          "Shopify",
	"atacado":          "Atacado",
	"balcao":           "Balcão",
	"balcão":           "Balcão",
	"marketplace":      "Marketplace",
	"representante":    "Representante",
	"televendas":       "Televendas",
	"site":             "Site",
	"loja virtual":     "Site",
}

// NormalizeChannel maps a raw channel label onto the closed channel set.
func NormalizeChannel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return store.ChannelUnknown
	}
	if normalized, ok := knownChannels[s]; ok {
		return normalized
	}
	for key, normalized := range knownChannels {
		if strings.Contains(s, key) {
			return normalized
		}
	}
	return store.ChannelUnknown
}

var statusDescriptions = map[int]string{
	0: "Aberto",
	1: "Faturado",
	2: "Cancelado",
	3: "Aprovado",
	4: "Preparando envio",
	5: "Enviado",
	6: "Entregue",
	7: "Pronto para envio",
	8: "Dados incompletos",
	9: "Não entregue",
}

// StatusDescription returns the human label for a numeric order status.
func StatusDescription(code int) string {
	if desc, ok := statusDescriptions[code]; ok {
		return desc
	}
	return "Desconhecido"
}

// channelFromOrder derives the sales channel from an order payload, preferring
// the explicit channel field over the ecommerce block.
func channelFromOrder(salesChannel string, ecom *upstream.EcommerceInfo) string {
	if ch := NormalizeChannel(salesChannel); ch != store.ChannelUnknown {
		return ch
	}
	if ecom != nil {
		if ch := NormalizeChannel(ecom.Channel); ch != store.ChannelUnknown {
			return ch
		}
		if ch := NormalizeChannel(ecom.StoreName); ch != store.ChannelUnknown {
			return ch
		}
	}
	return store.ChannelUnknown
}

// OrderRowFromSummary maps one list-endpoint row onto a store order. The list
// payload is lite: it carries no items, so merge rules will refuse to let it
// clobber a previously stored detail payload.
func OrderRowFromSummary(item upstream.OrderSummary) *store.Order {
	row := &store.Order{ERPID: item.ID}

	if item.Number != 0 {
		row.OrderNumber = sql.NullInt64{Int64: item.Number, Valid: true}
	}
	if item.Status != nil {
		row.Status = sql.NullInt64{Int64: int64(*item.Status), Valid: true}
	}
	if created, ok := NormalizeDate(item.CreatedDate); ok {
		row.CreatedDate = sql.NullTime{Time: created, Valid: true}
	}

	row.GrossTotal = sql.NullFloat64{Float64: float64(item.GrossTotal), Valid: true}
	row.ProductsTotal = sql.NullFloat64{Float64: float64(item.ProductsTotal), Valid: true}
	row.FreightValue = sql.NullFloat64{Float64: float64(item.Freight), Valid: true}
	row.DiscountValue = sql.NullFloat64{Float64: float64(item.Discount), Valid: true}
	row.OtherCharges = sql.NullFloat64{Float64: float64(item.OtherCharges), Valid: true}

	row.Channel = sql.NullString{String: channelFromOrder(item.SalesChannel, item.Ecommerce), Valid: true}

	if item.Customer != nil {
		if item.Customer.Name != "" {
			row.CustomerName = sql.NullString{String: item.Customer.Name, Valid: true}
		}
		if item.Customer.City != "" {
			row.City = sql.NullString{String: item.Customer.City, Valid: true}
		}
		if item.Customer.State != "" {
			row.State = sql.NullString{String: item.Customer.State, Valid: true}
		}
	}

	if raw, err := json.Marshal(item); err == nil {
		row.RawPayload = raw
	}
	return row
}

// OrderRowFromDetail maps a detail-endpoint payload onto a store order. The
// raw argument is the verbatim upstream body, preserved so item data survives.
func OrderRowFromDetail(detail *upstream.OrderDetail, raw json.RawMessage) *store.Order {
	summary := upstream.OrderSummary{
		ID:            detail.ID,
		Number:        detail.Number,
		Status:        detail.Status,
		CreatedDate:   detail.CreatedDate,
		GrossTotal:    detail.GrossTotal,
		ProductsTotal: detail.ProductsTotal,
		Freight:       detail.Freight,
		Discount:      detail.Discount,
		OtherCharges:  detail.OtherCharges,
		Ecommerce:     detail.Ecommerce,
		Customer:      detail.Customer,
	}
	row := OrderRowFromSummary(summary)
	if len(raw) > 0 {
		row.RawPayload = raw
	}
	return row
}

// FilterOrdersByDate keeps only summaries whose creation date falls inside
// [start, end], day-inclusive. Rows with an unparseable date are kept when no
// range is given and dropped otherwise.
func FilterOrdersByDate(items []upstream.OrderSummary, start, end time.Time) []upstream.OrderSummary {
	if start.IsZero() && end.IsZero() {
		return items
	}
	kept := make([]upstream.OrderSummary, 0, len(items))
	for _, item := range items {
		created, ok := NormalizeDate(item.CreatedDate)
		if !ok {
			continue
		}
		if !start.IsZero() && created.Before(start) {
			continue
		}
		if !end.IsZero() && created.After(end) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// freightKeys is the ordered fallback chain for extracting freight from a raw
// detail payload. Earlier entries win; later ones cover older payload shapes.
var freightKeys = [][]string{
	{"valorFrete"},
	{"pedido", "valorFrete"},
	{"transporte", "valorFrete"},
	{"frete"},
	{"pedido", "frete"},
}

// FreightFromPayload walks the raw payload through the fallback chain and
// returns the first freight value it can coerce to a number.
func FreightFromPayload(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, false
	}
	for _, path := range freightKeys {
		node := interface{}(doc)
		found := true
		for _, key := range path {
			obj, ok := node.(map[string]interface{})
			if !ok {
				found = false
				break
			}
			node, ok = obj[key]
			if !ok {
				found = false
				break
			}
		}
		if !found {
			continue
		}
		if value, ok := coerceNumber(node); ok {
			return value, true
		}
	}
	return 0, false
}

func coerceNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false
		}
		return upstream.ParseMoney(n), true
	default:
		return 0, false
	}
}

// payloadHasItems reports whether a stored raw payload carries item lines,
// either flat or nested under "pedido".
func payloadHasItems(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var doc struct {
		Items  []json.RawMessage `json:"itens"`
		Nested *struct {
			Items []json.RawMessage `json:"itens"`
		} `json:"pedido"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false
	}
	if len(doc.Items) > 0 {
		return true
	}
	return doc.Nested != nil && len(doc.Nested.Items) > 0
}

// ItemRowsFromDetail maps detail item lines to insert-only store rows.
func ItemRowsFromDetail(orderERPID int64, items []upstream.OrderItemDetail) []*store.OrderItem {
	rows := make([]*store.OrderItem, 0, len(items))
	for _, item := range items {
		row := &store.OrderItem{
			OrderERPID:  orderERPID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   float64(item.UnitPrice),
			TotalPrice:  float64(item.Total),
		}
		productID := item.ProductID
		code := item.Code
		if item.Product != nil {
			if productID == 0 {
				productID = item.Product.ID
			}
			if code == "" {
				code = item.Product.Code
			}
			if row.Description == "" {
				row.Description = item.Product.Description
			}
		}
		if productID != 0 {
			row.ProductID = sql.NullInt64{Int64: productID, Valid: true}
		}
		if code != "" {
			row.ProductCode = sql.NullString{String: code, Valid: true}
		}
		if row.TotalPrice == 0 && row.Quantity > 0 {
			row.TotalPrice = row.Quantity * row.UnitPrice
		}
		rows = append(rows, row)
	}
	return rows
}

// ProductRowFromSources merges the detail payload, the list summary, and the
// previously stored row into one product row. Detail wins over summary, and
// both win over the stored value; stored values survive where the upstream is
// silent.
func ProductRowFromSources(summary upstream.ProductSummary, detail *upstream.ProductDetail, detailRaw json.RawMessage, stored *store.Product) *store.Product {
	row := &store.Product{ERPID: summary.ID}
	if stored != nil {
		clone := *stored
		row = &clone
		row.ERPID = summary.ID
	}

	name := summary.Name
	if name == "" {
		name = summary.Description
	}
	sku := summary.SKU
	if sku == "" {
		sku = summary.Code
	}
	applyString(&row.SKU, sku)
	applyString(&row.Unit, summary.Unit)
	applyString(&row.Status, summary.Status)
	applyString(&row.Type, summary.Type)
	applyString(&row.GTIN, summary.GTIN)
	if summary.Prices != nil {
		applyFloatPtr(&row.Price, summary.Prices.Price)
		applyFloatPtr(&row.PromoPrice, summary.Prices.PromoPrice)
	}
	if created, ok := ParseUpstreamTimestamp(summary.CreatedAt); ok {
		row.UpstreamCreatedAt = sql.NullTime{Time: created, Valid: true}
	}
	if modified, ok := ParseUpstreamTimestamp(summary.ModifiedAt); ok {
		row.UpstreamModifiedAt = sql.NullTime{Time: modified, Valid: true}
	}

	if detail != nil {
		if detail.Name != "" {
			name = detail.Name
		}
		applyString(&row.SKU, detail.Code)
		applyString(&row.Unit, detail.Unit)
		applyString(&row.Status, detail.Status)
		applyString(&row.Type, detail.Type)
		applyString(&row.GTIN, detail.GTIN)
		if detail.Prices != nil {
			applyFloatPtr(&row.Price, detail.Prices.Price)
			applyFloatPtr(&row.PromoPrice, detail.Prices.PromoPrice)
		}
		if detail.Stock != nil {
			applyFloatPtr(&row.StockOnHand, detail.Stock.OnHand)
			applyFloatPtr(&row.StockReserved, detail.Stock.Reserved)
			applyFloatPtr(&row.StockAvailable, detail.Stock.Available)
		}
		if len(detail.Suppliers) > 0 && detail.Suppliers[0].ProductCode != "" {
			row.SupplierCode = sql.NullString{String: detail.Suppliers[0].ProductCode, Valid: true}
		}
		if detail.Packaging != nil {
			applyFloatPtr(&row.PackagingQty, detail.Packaging.Quantity)
		}
		if modified, ok := ParseUpstreamTimestamp(detail.ModifiedAt); ok {
			row.UpstreamModifiedAt = sql.NullTime{Time: modified, Valid: true}
		}
	}

	if name != "" {
		row.Name = name
	}
	if len(detailRaw) > 0 {
		row.RawPayload = detailRaw
	} else if row.RawPayload == nil {
		if raw, err := json.Marshal(summary); err == nil {
			row.RawPayload = raw
		}
	}
	return row
}

// ApplyStock overlays a stock endpoint response onto a product row.
func ApplyStock(row *store.Product, stock *upstream.StockDetail) {
	if stock == nil {
		return
	}
	row.StockOnHand = sql.NullFloat64{Float64: stock.OnHand, Valid: true}
	row.StockReserved = sql.NullFloat64{Float64: stock.Reserved, Valid: true}
	row.StockAvailable = sql.NullFloat64{Float64: stock.Available, Valid: true}
}

func applyString(dst *sql.NullString, v string) {
	if v != "" {
		*dst = sql.NullString{String: v, Valid: true}
	}
}

func applyFloatPtr(dst *sql.NullFloat64, v *float64) {
	if v != nil {
		*dst = sql.NullFloat64{Float64: *v, Valid: true}
	}
}
