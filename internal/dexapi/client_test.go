package dexapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, func()) {
	server := httptest.NewServer(handler)
	return NewClient(server.URL, Options{}), server.Close
}

func TestPools_RootArray(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pools", r.URL.Path)
		w.Write([]byte(`[
			{"address":"P1","baseMint":"B1","quoteMint":"Q1","tvl":12345.5,"volume24h":999,"feeBps":25},
			{"address":"P2","base_mint":"B2","quote_mint":"Q2","price":"1.25"}
		]`))
	})
	defer done()

	pools, err := client.Pools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 2)
	require.Equal(t, "P1", pools[0].Address)
	require.Equal(t, "B1", pools[0].BaseMint)
	require.Equal(t, 12345.5, pools[0].TVLUSD)
	require.Equal(t, 25, pools[0].FeeBps)
	require.Equal(t, "B2", pools[1].BaseMint)
	require.Equal(t, 1.25, pools[1].SpotPriceUSD)
}

func TestPools_Envelope(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs":[{"pair_address":"P9","base":"B9","quote":"Q9"}]}`))
	})
	defer done()

	pools, err := client.Pools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, "P9", pools[0].Address)
	require.Equal(t, "B9", pools[0].BaseMint)
}

func TestPools_SkipsRowsWithoutAddress(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"baseMint":"B1"},{"address":"P1"}]`))
	})
	defer done()

	pools, err := client.Pools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
}

func TestTrades(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/trades/P1", r.URL.Path)
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"trades":[
			{"signature":"s1","side":"BUY","amountUsd":150.5,"timestamp":1700000000},
			{"txSignature":"s2","tradeType":"sell","usd":12}
		]}`))
	})
	defer done()

	trades, err := client.Trades(context.Background(), "P1", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	require.Equal(t, "s1", trades[0].Signature)
	require.Equal(t, "buy", trades[0].Side)
	require.Equal(t, 150.5, trades[0].AmountUSD)
	require.Equal(t, int64(1700000000), trades[0].Timestamp.Unix())
	require.Equal(t, "P1", trades[1].Pool, "pool defaults to the query argument")
}

func TestAsset(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/asset", r.URL.Path)
		require.Equal(t, "MINT1", r.URL.Query().Get("id"))
		w.Write([]byte(`{"asset":{"symbol":"ABC","name":"Alphabet","decimals":6,"priceUsd":0.42}}`))
	})
	defer done()

	asset, err := client.Asset(context.Background(), "MINT1")
	require.NoError(t, err)
	require.Equal(t, "ABC", asset.Symbol)
	require.Equal(t, 6, asset.Decimals)
	require.Equal(t, 0.42, asset.PriceUSD)
	require.Equal(t, "MINT1", asset.Mint, "mint falls back to the query argument")
}

func TestVolumes(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/volumes", r.URL.Path)
		require.Equal(t, "24h", r.URL.Query().Get("tf"))
		w.Write([]byte(`{"volumes":[{"pool":"P1","volume":1234.5},{"address":"P2","volume24h":9}]}`))
	})
	defer done()

	volumes, err := client.Volumes(context.Background())
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	require.Equal(t, "P1", volumes[0].Pool)
	require.Equal(t, 1234.5, volumes[0].Volume24hUSD)
	require.Equal(t, "P2", volumes[1].Pool)
}

func TestWSTicket(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws-ticket", r.URL.Path)
		w.Write([]byte(`{"ticket":"abc123"}`))
	})
	defer done()

	ticket, err := client.WSTicket(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc123", ticket)
}

func TestWSTicket_Missing(t *testing.T) {
	client, done := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	defer done()

	_, err := client.WSTicket(context.Background())
	require.Error(t, err)
}
