package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"model_gateway/internal/artifact"
	"model_gateway/internal/models"
	"model_gateway/internal/predictor"
	"model_gateway/internal/serving"
	"model_gateway/internal/utils"
)

// Handle is a loaded, ready-to-serve model version.
type Handle struct {
	Key       string
	Record    *models.ModelVersionRecord
	Predictor predictor.Predictor
	LoadedAt  time.Time
}

// Info is a point-in-time snapshot of cache occupancy.
type Info struct {
	Loaded     []string  `json:"loaded"`
	LoadedAt   []LoadAge `json:"details"`
	InFlight   int       `json:"in_flight"`
	CoolingOff int       `json:"cooling_off"`
}

// LoadAge pairs a cache key with its load time.
type LoadAge struct {
	Key      string    `json:"key"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Cache holds at most one loaded handle per (model, version). Concurrent
// requests for the same unloaded key share a single load; a failed load is
// never cached and the key cools off before the next attempt.
type Cache struct {
	artifacts     artifact.Store
	loadTimeout   time.Duration
	retryCooldown time.Duration
	logger        *utils.Logger

	mu       sync.Mutex
	loaded   map[string]*Handle
	flights  map[string]*flight
	cooldown map[string]time.Time
}

// flight tracks one in-progress load and the callers waiting on it. The
// load's context is cancelled only when the last waiter gives up.
type flight struct {
	done    chan struct{}
	handle  *Handle
	err     error
	waiters int
	cancel  context.CancelFunc
}

// New creates an empty model cache.
func New(artifacts artifact.Store, loadTimeout, retryCooldown time.Duration, logger *utils.Logger) *Cache {
	if loadTimeout <= 0 {
		loadTimeout = 30 * time.Second
	}
	return &Cache{
		artifacts:     artifacts,
		loadTimeout:   loadTimeout,
		retryCooldown: retryCooldown,
		logger:        logger,
		loaded:        make(map[string]*Handle),
		flights:       make(map[string]*flight),
		cooldown:      make(map[string]time.Time),
	}
}

// GetOrLoad returns the handle for a registered version, loading it if
// needed. All callers racing on a cold key observe the load exactly once.
func (c *Cache) GetOrLoad(ctx context.Context, record *models.ModelVersionRecord) (*Handle, error) {
	key := record.Key()

	c.mu.Lock()
	if handle, ok := c.loaded[key]; ok {
		c.mu.Unlock()
		return handle, nil
	}
	if until, ok := c.cooldown[key]; ok {
		if time.Now().Before(until) {
			c.mu.Unlock()
			return nil, serving.Unavailablef("model %s failed to load recently, retry after %s", key, time.Until(until).Round(time.Millisecond))
		}
		delete(c.cooldown, key)
	}
	if f, ok := c.flights[key]; ok {
		f.waiters++
		c.mu.Unlock()
		return c.wait(ctx, f)
	}

	loadCtx, cancel := context.WithTimeout(context.Background(), c.loadTimeout)
	f := &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
	c.flights[key] = f
	c.mu.Unlock()

	go c.load(loadCtx, key, record, f)
	return c.wait(ctx, f)
}

func (c *Cache) wait(ctx context.Context, f *flight) (*Handle, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return f.handle, nil
	case <-ctx.Done():
		c.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
		}
		c.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, serving.Timeoutf("timed out waiting for model load")
		}
		return nil, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, key string, record *models.ModelVersionRecord, f *flight) {
	defer f.cancel()

	start := time.Now()
	handle, err := c.loadArtifact(ctx, key, record)

	c.mu.Lock()
	delete(c.flights, key)
	if err != nil {
		f.err = err
		// a load abandoned by every waiter does not poison the key
		if !errors.Is(err, context.Canceled) {
			c.cooldown[key] = time.Now().Add(c.retryCooldown)
		}
	} else {
		f.handle = handle
		c.loaded[key] = handle
	}
	c.mu.Unlock()
	close(f.done)

	if err != nil {
		c.logger.Error("model load failed", "model", key, "error", err)
	} else {
		c.logger.Info("model loaded", "model", key, "duration", time.Since(start).Round(time.Millisecond))
	}
}

func (c *Cache) loadArtifact(ctx context.Context, key string, record *models.ModelVersionRecord) (*Handle, error) {
	data, err := c.artifacts.Fetch(ctx, record.ArtifactPath)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, serving.Unavailablef("model %s load timed out", key)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, serving.Unavailablef("model %s artifact fetch failed: %v", key, err)
	}

	pred, err := predictor.New(data)
	if err != nil {
		return nil, serving.Unavailablef("model %s artifact is invalid: %v", key, err)
	}

	return &Handle{Key: key, Record: record, Predictor: pred, LoadedAt: time.Now().UTC()}, nil
}

// Get returns a loaded handle without triggering a load.
func (c *Cache) Get(key string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.loaded[key]
	return handle, ok
}

// Evict drops one loaded handle. In-flight loads are left alone; callers
// already waiting on them still get their result.
func (c *Cache) Evict(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.loaded[key]; !ok {
		return false
	}
	delete(c.loaded, key)
	c.logger.Info("model evicted", "model", key)
	return true
}

// ClearAll drops every loaded handle and resets cooldowns. Returns the
// number of handles evicted.
func (c *Cache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.loaded)
	c.loaded = make(map[string]*Handle)
	c.cooldown = make(map[string]time.Time)
	c.logger.Warn("cache cleared", "evicted", n)
	return n
}

// Info reports cache occupancy for the admin surface.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := Info{
		Loaded:   make([]string, 0, len(c.loaded)),
		InFlight: len(c.flights),
	}
	now := time.Now()
	for key, handle := range c.loaded {
		info.Loaded = append(info.Loaded, key)
		info.LoadedAt = append(info.LoadedAt, LoadAge{Key: key, LoadedAt: handle.LoadedAt})
	}
	for _, until := range c.cooldown {
		if now.Before(until) {
			info.CoolingOff++
		}
	}
	sort.Strings(info.Loaded)
	sort.Slice(info.LoadedAt, func(i, j int) bool { return info.LoadedAt[i].Key < info.LoadedAt[j].Key })
	return info
}
