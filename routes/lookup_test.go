package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b-open-io/token-index/cidcache"
	"github.com/b-open-io/token-index/token"
)

func testApp(t *testing.T, cacheSize int, entries ...cidcache.Entry) *fiber.App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	seed, err := cidcache.NewSQLiteStore(path)
	require.NoError(t, err)
	if len(entries) > 0 {
		require.NoError(t, seed.PutBatch(context.Background(), entries))
	}
	require.NoError(t, seed.Close())

	pool, err := cidcache.NewPool(path, 2)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	app := fiber.New()
	require.NoError(t, Register(app, &Config{Pool: pool, CacheSize: cacheSize, MaxBatch: 10}))
	RegisterDocs(app)
	return app
}

func seededEntry(level, number int) cidcache.Entry {
	cid, _ := token.CIDv0(token.Hash(number))
	return cidcache.Entry{
		Cid:     cid,
		Content: token.Content(level, number),
		Level:   level,
		Number:  number,
	}
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, into))
}

func TestGetToken(t *testing.T) {
	entry := seededEntry(3, 1423543)
	app := testApp(t, 0, entry)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token/"+entry.Cid, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got cidcache.Entry
	decode(t, resp, &got)
	assert.Equal(t, entry, got)
	assert.Equal(t, "003841d04a85612adb1ca95d86e08561eb1dcc9608899a57b59d57c565d796bb106", got.Content)
}

func TestGetTokenNotFound(t *testing.T) {
	app := testApp(t, 0)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token/QmMissing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "QmMissing", body["cid"])
}

func postBatch(t *testing.T, app *fiber.App, payload string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tokens/batch", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

type batchResponse struct {
	Results       map[string]cidcache.Entry `json:"results"`
	NotFound      []string                  `json:"not_found"`
	TotalRequest  int                       `json:"total_requested"`
	TotalFound    int                       `json:"total_found"`
	TotalNotFound int                       `json:"total_not_found"`
}

func TestBatchPartition(t *testing.T) {
	cached := seededEntry(1, 7)
	app := testApp(t, 0, cached)

	resp := postBatch(t, app, fmt.Sprintf(`{"cids": [%q, "QmB"]}`, cached.Cid))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body batchResponse
	decode(t, resp, &body)
	assert.Equal(t, 2, body.TotalRequest)
	assert.Equal(t, 1, body.TotalFound)
	assert.Equal(t, 1, body.TotalNotFound)
	assert.Len(t, body.Results, 1)
	assert.Equal(t, cached, body.Results[cached.Cid])
	assert.Equal(t, []string{"QmB"}, body.NotFound)
}

func TestBatchDeduplicates(t *testing.T) {
	cached := seededEntry(1, 7)
	app := testApp(t, 0, cached)

	resp := postBatch(t, app, fmt.Sprintf(`{"cids": [%q, %q, %q]}`, cached.Cid, cached.Cid, cached.Cid))
	var body batchResponse
	decode(t, resp, &body)
	assert.Equal(t, 3, body.TotalRequest)
	assert.Equal(t, 1, body.TotalFound)
	assert.Equal(t, 0, body.TotalNotFound)
}

func TestBatchEmptyList(t *testing.T) {
	app := testApp(t, 0)
	resp := postBatch(t, app, `{"cids": []}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body batchResponse
	decode(t, resp, &body)
	assert.Zero(t, body.TotalRequest)
	assert.Empty(t, body.NotFound)
}

func TestBatchRejectsMalformedBody(t *testing.T) {
	app := testApp(t, 0)
	for name, payload := range map[string]string{
		"not json":      "not json at all",
		"missing field": `{"ids": ["QmA"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := postBatch(t, app, payload)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestBatchRejectsOversized(t *testing.T) {
	app := testApp(t, 0) // MaxBatch 10
	cids := make([]string, 11)
	for i := range cids {
		cids[i] = fmt.Sprintf("Qm%d", i)
	}
	payload, _ := json.Marshal(map[string][]string{"cids": cids})
	resp := postBatch(t, app, string(payload))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := testApp(t, 0)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestDocs(t *testing.T) {
	app := testApp(t, 0)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api-docs", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "GET /token/{cid}")
}

func TestHotCacheBypassesStore(t *testing.T) {
	// Cache hits must not touch the persistence layer: warm the cache,
	// starve the pool by checking every store out, and read again.
	entry := seededEntry(2, 9)
	path := filepath.Join(t.TempDir(), "cache.db")
	seed, err := cidcache.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, seed.PutBatch(context.Background(), []cidcache.Entry{entry}))
	require.NoError(t, seed.Close())

	pool, err := cidcache.NewPool(path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	app := fiber.New()
	require.NoError(t, Register(app, &Config{Pool: pool, CacheSize: 10}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token/"+entry.Cid, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	held, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer pool.Put(held)

	// The pool is empty; only the hot cache can answer now.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/token/"+entry.Cid, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A miss has nowhere to go and times out at the test harness.
	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/token/QmCold", nil), 100)
	assert.Error(t, err)
}

func TestHotCacheEvictsAtCapacity(t *testing.T) {
	first := seededEntry(1, 1)
	second := seededEntry(1, 2)
	path := filepath.Join(t.TempDir(), "cache.db")
	seed, err := cidcache.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, seed.PutBatch(context.Background(), []cidcache.Entry{first, second}))
	require.NoError(t, seed.Close())

	pool, err := cidcache.NewPool(path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	app := fiber.New()
	require.NoError(t, Register(app, &Config{Pool: pool, CacheSize: 1}))

	// Load first, then second: capacity 1 evicts first.
	for _, cid := range []string{first.Cid, second.Cid} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token/"+cid, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	held, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer pool.Put(held)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token/"+second.Cid, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "most recent entry stays resident")

	_, err = app.Test(httptest.NewRequest(http.MethodGet, "/token/"+first.Cid, nil), 100)
	assert.Error(t, err, "evicted entry needs the store again")
}
