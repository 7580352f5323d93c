package matching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/model"
)

// Document is the normalised, comparable form of a job posting.
type Document struct {
	PostingID   int64    `json:"postingId"`
	Tokens      []string `json:"tokens"`
	Location    string   `json:"location"`
	Active      bool     `json:"active"`
	Fingerprint string   `json:"fingerprint"`

	set map[string]struct{}
}

// tokenSet returns the document tokens as a set, building it lazily for
// documents decoded from a cache.
func (d *Document) tokenSet() map[string]struct{} {
	if d.set == nil {
		d.set = make(map[string]struct{}, len(d.Tokens))
		for _, t := range d.Tokens {
			d.set[t] = struct{}{}
		}
	}
	return d.set
}

// Fingerprint hashes the content fields of a posting that affect its index.
// Two postings with the same fingerprint index identically.
func Fingerprint(p model.JobPosting) string {
	h := sha256.New()
	for _, part := range []string{p.Title, p.Description, p.Location, strconv.FormatBool(p.IsActive)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IndexPosting tokenises title and description and normalises the location.
// It is pure: identical input always yields an identical Document.
func IndexPosting(p model.JobPosting) Document {
	set := Tokenize(p.Title + "\n" + p.Description)
	return Document{
		PostingID:   p.ID,
		Tokens:      sortedTokens(set),
		Location:    NormalizeLocation(p.Location),
		Active:      p.IsActive,
		Fingerprint: Fingerprint(p),
		set:         set,
	}
}

// IndexCache stores Documents keyed by posting id. Implementations must be
// safe for concurrent use. A miss is (Document{}, false, nil).
type IndexCache interface {
	Get(ctx context.Context, postingID int64) (Document, bool, error)
	Put(ctx context.Context, doc Document) error
	Invalidate(ctx context.Context, postingID int64) error
}

// ─── Indexer ─────────────────────────────────────────────────────────────────

// Indexer returns cached Documents and re-indexes postings whose content
// changed since they were cached. Concurrent requests for the same posting
// share a single indexing call.
type Indexer struct {
	cache IndexCache
	group singleflight.Group
	log   *zap.Logger
}

// NewIndexer builds an Indexer over cache. A nil cache means an in-process
// MemoryIndexCache.
func NewIndexer(cache IndexCache, log *zap.Logger) *Indexer {
	if cache == nil {
		cache = NewMemoryIndexCache()
	}
	return &Indexer{cache: cache, log: logger.WithFields(log, zap.String("component", "indexer"))}
}

// GetOrCreate returns the cached Document for p when its fingerprint still
// matches, and indexes (and caches) p otherwise. Cache failures degrade to a
// fresh, uncached index rather than an error.
func (ix *Indexer) GetOrCreate(ctx context.Context, p model.JobPosting) Document {
	fp := Fingerprint(p)
	doc, ok, err := ix.cache.Get(ctx, p.ID)
	if err != nil {
		ix.log.Warn("index cache read failed", zap.Int64("posting_id", p.ID), zap.Error(err))
	}
	if ok && doc.Fingerprint == fp {
		return doc
	}
	return ix.Refresh(ctx, p)
}

// Refresh re-indexes p unconditionally and stores the result.
func (ix *Indexer) Refresh(ctx context.Context, p model.JobPosting) Document {
	key := strconv.FormatInt(p.ID, 10) + ":" + Fingerprint(p)
	v, _, _ := ix.group.Do(key, func() (any, error) {
		doc := IndexPosting(p)
		if err := ix.cache.Put(ctx, doc); err != nil {
			ix.log.Warn("index cache write failed", zap.Int64("posting_id", p.ID), zap.Error(err))
		}
		return doc, nil
	})
	return v.(Document)
}

// Forget drops the cached Document of a posting that no longer exists.
func (ix *Indexer) Forget(ctx context.Context, postingID int64) {
	if err := ix.cache.Invalidate(ctx, postingID); err != nil {
		ix.log.Warn("index cache invalidate failed", zap.Int64("posting_id", postingID), zap.Error(err))
	}
}

// ─── In-memory cache ─────────────────────────────────────────────────────────

// MemoryIndexCache is a process-local IndexCache.
type MemoryIndexCache struct {
	mu   sync.RWMutex
	docs map[int64]Document
}

// NewMemoryIndexCache returns an empty MemoryIndexCache.
func NewMemoryIndexCache() *MemoryIndexCache {
	return &MemoryIndexCache{docs: make(map[int64]Document)}
}

func (c *MemoryIndexCache) Get(_ context.Context, postingID int64) (Document, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[postingID]
	return doc, ok, nil
}

func (c *MemoryIndexCache) Put(_ context.Context, doc Document) error {
	doc.tokenSet()
	c.mu.Lock()
	c.docs[doc.PostingID] = doc
	c.mu.Unlock()
	return nil
}

func (c *MemoryIndexCache) Invalidate(_ context.Context, postingID int64) error {
	c.mu.Lock()
	delete(c.docs, postingID)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached documents.
func (c *MemoryIndexCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}
