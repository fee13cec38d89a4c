package trigger

import (
	"sync"
	"time"

	"smallbiznis-engagement/services/model"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits   = prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_cache_hits_total"})
	cacheMiss   = prometheus.NewCounter(prometheus.CounterOpts{Name: "trigger_cache_miss_total"})
	grantsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trigger_grants_total"}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss, grantsTotal)
}

// globalKey is the cache key of triggers that belong to no event.
const globalKey = ""

type compiledTrigger struct {
	Trigger *model.Trigger
	Spec    Spec
}

type triggerSet struct {
	Triggers []*compiledTrigger
	LoadedAt time.Time
}

// Cache keeps parsed trigger definitions per event. Concurrent misses for the
// same event share one load.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*triggerSet
	ttl   time.Duration
	group singleflight.Group
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: make(map[string]*triggerSet),
		ttl:   ttl,
	}
}

func (c *Cache) Get(key string) ([]*compiledTrigger, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || (c.ttl > 0 && time.Since(v.LoadedAt) > c.ttl) {
		return nil, false
	}
	return v.Triggers, true
}

func (c *Cache) Set(key string, triggers []*compiledTrigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &triggerSet{Triggers: triggers, LoadedAt: time.Now()}
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Load returns the cached set for key or fills it with load.
func (c *Cache) Load(key string, load func() ([]*compiledTrigger, error)) ([]*compiledTrigger, error) {
	if v, ok := c.Get(key); ok {
		cacheHits.Inc()
		return v, nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do("triggers:"+key, func() (any, error) {
		triggers, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, triggers)
		return triggers, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*compiledTrigger), nil
}
