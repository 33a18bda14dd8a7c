package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token     string
	refreshed int
}

func (s *staticTokens) Token(_ context.Context) (string, error) { return s.token, nil }

func (s *staticTokens) ForceRefresh(_ context.Context) (string, error) {
	s.refreshed++
	s.token = "refreshed-token"
	return s.token, nil
}

func TestClientRetriesOnceOnUnauthorized(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer refreshed-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(OrderListPage{Items: []OrderSummary{{ID: 1}}})
	}))
	defer server.Close()

	tokens := &staticTokens{token: "stale-token"}
	c := NewClient(server.URL, tokens, 0)

	page, err := c.ListOrders(context.Background(), OrderListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.refreshed)
}

func TestClientSecondUnauthorizedIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.URL, &staticTokens{token: "bad"}, 0)
	_, err := c.ListOrders(context.Background(), OrderListQuery{})
	assert.True(t, IsUnauthorized(err))
}

func TestClientSurfacesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, &staticTokens{token: "ok"}, 0)
	_, err := c.ListOrders(context.Background(), OrderListQuery{})
	assert.True(t, IsRateLimit(err))
}

func TestGetOrderUnwrapsNestedEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pedidos/42", r.URL.Path)
		w.Write([]byte(`{"pedido":{"id":42,"numeroPedido":7,"itens":[{"quantidade":2}]}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, &staticTokens{token: "ok"}, 0)
	detail, raw, err := c.GetOrder(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), detail.ID)
	assert.Equal(t, int64(7), detail.Number)
	require.Len(t, detail.Items, 1)
	assert.Contains(t, string(raw), `"pedido"`)
}

func TestListOrdersQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "100", q.Get("limit"))
		assert.Equal(t, "200", q.Get("offset"))
		assert.Equal(t, "desc", q.Get("orderBy"))
		assert.Equal(t, "2024-03-01", q.Get("dataInicial"))
		assert.Equal(t, "2024-03-03", q.Get("dataFinal"))
		assert.Contains(t, q.Get("fields"), "valorFrete")
		w.Write([]byte(`{"itens":[],"paginacao":{"total":0}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, &staticTokens{token: "ok"}, 0)
	_, err := c.ListOrders(context.Background(), OrderListQuery{
		Offset:    200,
		StartDate: "2024-03-01",
		EndDate:   "2024-03-03",
	})
	require.NoError(t, err)
}

func TestListProductsStatusFilterFallback(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("situacao") != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detalhes":[{"campo":"situacao","mensagem":"filtro nao suportado"}]}`))
			return
		}
		json.NewEncoder(w).Encode(ProductListPage{Items: []ProductSummary{{ID: 9}}})
	}))
	defer server.Close()

	c := NewClient(server.URL, &staticTokens{token: "ok"}, 0)
	page, err := c.ListProducts(context.Background(), ProductListQuery{Status: "A"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 2, calls)
}

func TestListProductsOtherValidationErrorsPropagate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detalhes":[{"campo":"dataAlteracao"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, &staticTokens{token: "ok"}, 0)
	_, err := c.ListProducts(context.Background(), ProductListQuery{Status: "A", ModifiedSince: "bad"})
	assert.True(t, IsValidation(err))
}
