package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/store"
	"erp-sync-service/internal/upstream"
)

type noopTokens struct{}

func (noopTokens) Token(_ context.Context) (string, error)        { return "token", nil }
func (noopTokens) ForceRefresh(_ context.Context) (string, error) { return "token", nil }

func instantSleep(_ context.Context, _ time.Duration) error { return nil }

// newPipeline wires an order syncer against a fake upstream and an in-memory
// store, the way the manager does in production.
func newPipeline(st *fakeStore, serverURL string) *OrderSyncer {
	client := upstream.NewClient(serverURL, noopTokens{}, 0)
	exec := NewExecutor(NewLimiter(100000), ExecutorConfig{Endpoint: "orders"}, nil)
	exec.sleep = instantSleep
	upserter := NewMergeUpserter(st, nil)
	items := NewItemSyncer(st, client, exec, nil)

	freight := NewFreightEnricher(config.FreightConfig{
		SelectLimit: 100,
		BatchSize:   10,
		MaxPasses:   3,
	}, st, client, exec, upserter, items)
	freight.sleep = instantSleep

	s := NewOrderSyncer(config.OrdersConfig{
		WindowDays:      3,
		PageSize:        100,
		MaxRequests:     1000,
		MaxRequestsFull: 2000,
	}, config.SchedulerConfig{OrdersRecentDays: 7}, st, client, exec, upserter, freight, NewChannelNormalizer(st, 0), items)
	s.sleep = instantSleep
	return s
}

func TestOrderJobEndToEnd(t *testing.T) {
	listCalls := 0
	detailCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/pedidos":
			listCalls++
			start := r.URL.Query().Get("dataInicial")
			// Only the first window has data; a short page ends each window.
			if start != "2024-03-01" {
				w.Write([]byte(`{"itens":[],"paginacao":{"total":0}}`))
				return
			}
			w.Write([]byte(`{"itens":[
				{"id":101,"numeroPedido":1,"situacao":1,"dataCriacao":"2024-03-02","valorTotalPedido":100,"valorFrete":0,"ecommerce":{"canal":"Shopee"}},
				{"id":102,"numeroPedido":2,"situacao":5,"dataCriacao":"2024-03-01","valorTotalPedido":"89,90","valorFrete":0}
			],"paginacao":{"total":2}}`))
		case strings.HasPrefix(r.URL.Path, "/pedidos/"):
			detailCalls++
			var id int64
			fmt.Sscanf(r.URL.Path, "/pedidos/%d", &id)
			fmt.Fprintf(w, `{"pedido":{"id":%d,"valorFrete":"15,50","itens":[
				{"produto":{"id":9,"codigo":"SKU-9","descricao":"Item"},"quantidade":2,"valorUnitario":10,"valorTotal":20}
			]}}`, id)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	st := newFakeStore()
	s := newPipeline(st, server.URL)

	params, _ := json.Marshal(OrderJobParams{Mode: OrderModeRange, StartDate: "2024-03-01", EndDate: "2024-03-05"})
	require.NoError(t, st.CreateSyncJob(context.Background(), &store.SyncJob{
		ID:     "job-1",
		Status: store.JobStatusQueued,
		Params: params,
	}))

	require.NoError(t, s.RunJob(context.Background(), "job-1"))

	job := st.jobs["job-1"]
	assert.Equal(t, store.JobStatusFinished, job.Status)
	assert.True(t, job.StartedAt.Valid)
	assert.True(t, job.FinishedAt.Valid)
	assert.Equal(t, int64(2), job.TotalRows)

	// Both orders landed, enriched with detail freight.
	require.Len(t, st.orders, 2)
	for _, id := range []int64{101, 102} {
		row := st.orders[id]
		require.NotNil(t, row, "order %d", id)
		assert.Equal(t, 15.5, row.FreightValue.Float64, "order %d", id)
		assert.True(t, row.IsEnriched.Bool, "order %d", id)
	}

	// The Shopee channel from the list survived the detail overwrite.
	assert.Equal(t, "Shopee", st.orders[101].Channel.String)

	// Items were saved from the detail payloads during enrichment.
	assert.Len(t, st.items[101], 1)
	assert.Len(t, st.items[102], 1)
	assert.Equal(t, "SKU-9", st.items[101][0].ProductCode.String)

	// 2 window list calls plus 2 detail fetches; nothing was refetched.
	assert.Equal(t, 2, listCalls)
	assert.Equal(t, 2, detailCalls)
}

func TestOrderJobRangeFilterFallback(t *testing.T) {
	listCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pedidos" {
			// Keep enrichment quiet; details have no extra freight.
			w.Write([]byte(`{"id":0,"itens":[]}`))
			return
		}
		listCalls++
		if r.URL.Query().Get("dataInicial") != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detalhes":[{"campo":"dataInicial"}]}`))
			return
		}
		// Unfiltered scan, newest first, crossing the range boundary.
		w.Write([]byte(`{"itens":[
			{"id":201,"dataCriacao":"2024-03-08","valorTotalPedido":10,"valorFrete":1},
			{"id":202,"dataCriacao":"2024-03-04","valorTotalPedido":20,"valorFrete":1},
			{"id":203,"dataCriacao":"2024-02-20","valorTotalPedido":30,"valorFrete":1}
		],"paginacao":{"total":3}}`))
	}))
	defer server.Close()

	st := newFakeStore()
	s := newPipeline(st, server.URL)

	params, _ := json.Marshal(OrderJobParams{Mode: OrderModeRange, StartDate: "2024-03-01", EndDate: "2024-03-05"})
	require.NoError(t, st.CreateSyncJob(context.Background(), &store.SyncJob{ID: "job-2", Status: store.JobStatusQueued, Params: params}))
	require.NoError(t, s.RunJob(context.Background(), "job-2"))

	// Only the in-range order was kept from the unfiltered scan.
	assert.Nil(t, st.orders[201])
	assert.NotNil(t, st.orders[202])
	assert.Nil(t, st.orders[203])

	// One rejected filtered call, then one unfiltered page.
	assert.Equal(t, 2, listCalls)
	assert.Equal(t, store.JobStatusFinished, st.jobs["job-2"].Status)
}

func TestOrderJobUpstreamErrorFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	st := newFakeStore()
	s := newPipeline(st, server.URL)

	params, _ := json.Marshal(OrderJobParams{Mode: OrderModeRange, StartDate: "2024-03-01", EndDate: "2024-03-02"})
	require.NoError(t, st.CreateSyncJob(context.Background(), &store.SyncJob{ID: "job-3", Status: store.JobStatusQueued, Params: params}))

	err := s.RunJob(context.Background(), "job-3")
	require.Error(t, err)

	job := st.jobs["job-3"]
	assert.Equal(t, store.JobStatusError, job.Status)
	assert.True(t, job.ErrorMessage.Valid)
}
