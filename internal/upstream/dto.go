package upstream

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Money decodes upstream monetary values, which arrive either as JSON numbers
// or as strings in Brazilian locale ("1.234,56").
type Money float64

func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*m = 0
		return nil
	}
	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*m = Money(ParseMoney(raw))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*m = 0
		return nil
	}
	*m = Money(f)
	return nil
}

// ParseMoney converts a monetary string to a float. Comma is treated as the
// decimal separator when present, with dots as thousand separators.
func ParseMoney(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

type Pagination struct {
	Page    int `json:"pagina"`
	Pages   int `json:"paginas"`
	PerPage int `json:"por_pagina"`
	Total   int `json:"total"`
}

type EcommerceInfo struct {
	Channel        string `json:"canal"`
	StoreName      string `json:"nome"`
	ExternalNumber string `json:"numeroPedidoEcommerce"`
}

type CustomerInfo struct {
	Name  string `json:"nome"`
	City  string `json:"municipio"`
	State string `json:"uf"`
}

// OrderSummary is one row of the order list endpoint. The list payload is
// "lite": freight and item details are only reliable on the detail endpoint.
type OrderSummary struct {
	ID            int64          `json:"id"`
	Number        int64          `json:"numeroPedido"`
	Status        *int           `json:"situacao"`
	CreatedDate   string         `json:"dataCriacao"`
	GrossTotal    Money          `json:"valorTotalPedido"`
	ProductsTotal Money          `json:"valorTotalProdutos"`
	Freight       Money          `json:"valorFrete"`
	Discount      Money          `json:"valorDesconto"`
	OtherCharges  Money          `json:"valorOutrasDespesas"`
	SalesChannel  string         `json:"canalVenda"`
	Ecommerce     *EcommerceInfo `json:"ecommerce"`
	Customer      *CustomerInfo  `json:"cliente"`
}

type OrderListPage struct {
	Items      []OrderSummary `json:"itens"`
	Pagination *Pagination    `json:"paginacao"`
}

type ProductRef struct {
	ID          int64  `json:"id"`
	Code        string `json:"codigo"`
	Description string `json:"descricao"`
}

type OrderItemDetail struct {
	Product     *ProductRef `json:"produto"`
	ProductID   int64       `json:"idProduto"`
	Code        string      `json:"codigo"`
	Description string      `json:"descricao"`
	Quantity    float64     `json:"quantidade"`
	UnitPrice   Money       `json:"valorUnitario"`
	Total       Money       `json:"valorTotal"`
}

type OrderDetail struct {
	ID            int64             `json:"id"`
	Number        int64             `json:"numeroPedido"`
	Status        *int              `json:"situacao"`
	CreatedDate   string            `json:"dataCriacao"`
	GrossTotal    Money             `json:"valorTotalPedido"`
	ProductsTotal Money             `json:"valorTotalProdutos"`
	Freight       Money             `json:"valorFrete"`
	Discount      Money             `json:"valorDesconto"`
	OtherCharges  Money             `json:"valorOutrasDespesas"`
	Ecommerce     *EcommerceInfo    `json:"ecommerce"`
	Customer      *CustomerInfo     `json:"cliente"`
	Items         []OrderItemDetail `json:"itens"`
}

// orderDetailEnvelope tolerates the detail payload arriving either flat or
// nested under a "pedido" key, which varies by endpoint version.
type orderDetailEnvelope struct {
	OrderDetail
	Nested *OrderDetail `json:"pedido"`
}

type ProductPrices struct {
	Price      *float64 `json:"preco"`
	PromoPrice *float64 `json:"precoPromocional"`
}

type ProductSummary struct {
	ID          int64          `json:"id"`
	SKU         string         `json:"sku"`
	Code        string         `json:"codigo"`
	Description string         `json:"descricao"`
	Name        string         `json:"nome"`
	Type        string         `json:"tipo"`
	Status      string         `json:"situacao"`
	Unit        string         `json:"unidade"`
	GTIN        string         `json:"gtin"`
	CreatedAt   string         `json:"dataCriacao"`
	ModifiedAt  string         `json:"dataAlteracao"`
	Prices      *ProductPrices `json:"precos"`
}

type ProductListPage struct {
	Items      []ProductSummary `json:"itens"`
	Pagination *Pagination      `json:"paginacao"`
}

type ProductStockInfo struct {
	OnHand    *float64 `json:"saldo"`
	Reserved  *float64 `json:"reservado"`
	Available *float64 `json:"disponivel"`
}

type ProductSupplier struct {
	ID          int64  `json:"id"`
	Name        string `json:"nome"`
	ProductCode string `json:"codigoProdutoNoFornecedor"`
}

type ProductPackaging struct {
	Quantity *float64 `json:"quantidade"`
}

type ProductDetail struct {
	ID         int64             `json:"id"`
	Code       string            `json:"codigo"`
	Name       string            `json:"nome"`
	Unit       string            `json:"unidade"`
	Type       string            `json:"tipo"`
	Status     string            `json:"situacao"`
	GTIN       string            `json:"gtin"`
	Prices     *ProductPrices    `json:"precos"`
	Stock      *ProductStockInfo `json:"estoque"`
	Suppliers  []ProductSupplier `json:"fornecedores"`
	Packaging  *ProductPackaging `json:"embalagem"`
	CreatedAt  string            `json:"dataCriacao"`
	ModifiedAt string            `json:"dataAlteracao"`
}

type StockDetail struct {
	ID        int64   `json:"id"`
	Code      string  `json:"codigo"`
	OnHand    float64 `json:"saldo"`
	Reserved  float64 `json:"reservado"`
	Available float64 `json:"disponivel"`
}
