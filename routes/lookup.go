// Package routes registers the lookup service's HTTP surface: single and
// batch CID lookups over the CID cache, fronted by a bounded in-process
// cache.
package routes

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/b-open-io/token-index/cidcache"
)

const (
	// DefaultCacheSize bounds the hot-entry cache.
	DefaultCacheSize = 10000
	// DefaultMaxBatch caps one batch request.
	DefaultMaxBatch = 10000
)

// Config wires the lookup routes.
type Config struct {
	// Pool hands each request its own store connection.
	Pool *cidcache.Pool
	// CacheSize overrides DefaultCacheSize when positive.
	CacheSize int
	// MaxBatch overrides DefaultMaxBatch when positive.
	MaxBatch int
}

type lookupService struct {
	pool     *cidcache.Pool
	cache    *lru.Cache[string, *cidcache.Entry]
	maxBatch int
}

// Register mounts the lookup endpoints on the app.
//
// Entries are immutable once written, so the cache needs no invalidation:
// capacity management is the whole policy.
func Register(app *fiber.App, cfg *Config) error {
	if cfg == nil || cfg.Pool == nil {
		return errors.New("routes: config with a store pool is required")
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	cache, err := lru.New[string, *cidcache.Entry](cacheSize)
	if err != nil {
		return err
	}
	svc := &lookupService{pool: cfg.Pool, cache: cache, maxBatch: maxBatch}

	app.Get("/token/:cid", svc.getToken)
	app.Post("/tokens/batch", svc.getTokensBatch)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	return nil
}

func (s *lookupService) getToken(c *fiber.Ctx) error {
	cid := c.Params("cid")
	if entry, ok := s.cache.Get(cid); ok {
		return c.JSON(entry)
	}

	store, err := s.pool.Get(c.Context())
	if err != nil {
		return internalError(c, err)
	}
	entry, err := store.Get(c.Context(), cid)
	s.pool.Put(store)
	if err == cidcache.ErrNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found",
			"cid":   cid,
		})
	}
	if err != nil {
		return internalError(c, err)
	}
	s.cache.Add(cid, entry)
	return c.JSON(entry)
}

type batchRequest struct {
	Cids []string `json:"cids"`
}

func (s *lookupService) getTokensBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body, expected {\"cids\": [...]}",
		})
	}
	if req.Cids == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing 'cids' field in request body",
		})
	}
	if len(req.Cids) > s.maxBatch {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    "batch size exceeds maximum",
			"max":      s.maxBatch,
			"received": len(req.Cids),
		})
	}

	// Dedupe preserving request order; not_found keeps that order too.
	seen := make(map[string]struct{}, len(req.Cids))
	unique := make([]string, 0, len(req.Cids))
	for _, cid := range req.Cids {
		if _, ok := seen[cid]; !ok {
			seen[cid] = struct{}{}
			unique = append(unique, cid)
		}
	}

	results := make(map[string]*cidcache.Entry, len(unique))
	misses := make([]string, 0, len(unique))
	for _, cid := range unique {
		if entry, ok := s.cache.Get(cid); ok {
			results[cid] = entry
		} else {
			misses = append(misses, cid)
		}
	}

	if len(misses) > 0 {
		store, err := s.pool.Get(c.Context())
		if err != nil {
			return internalError(c, err)
		}
		found, err := store.GetBatch(c.Context(), misses)
		s.pool.Put(store)
		if err != nil {
			return internalError(c, err)
		}
		for cid, entry := range found {
			results[cid] = entry
			s.cache.Add(cid, entry)
		}
	}

	notFound := make([]string, 0)
	for _, cid := range unique {
		if _, ok := results[cid]; !ok {
			notFound = append(notFound, cid)
		}
	}
	return c.JSON(fiber.Map{
		"results":         results,
		"not_found":       notFound,
		"total_requested": len(req.Cids),
		"total_found":     len(results),
		"total_not_found": len(notFound),
	})
}

func internalError(c *fiber.Ctx, err error) error {
	// Log the detail server-side; the caller only sees the correlation id.
	id := c.Locals("requestid")
	log.Printf("lookup error (request %v): %v", id, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal_error",
	})
}
