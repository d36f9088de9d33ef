// Package cache holds read-through caches in front of the store.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type tariffItem struct {
	tariff    domain.Tariff
	expiresAt time.Time
}

// TariffCache is a repository.TariffRepository that keeps tariffs for ttl.
// Concurrent misses for one tariff share a single store read.
type TariffCache struct {
	next  repository.TariffRepository
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.RWMutex
	items map[int64]tariffItem
}

func NewTariffCache(next repository.TariffRepository, ttl time.Duration) *TariffCache {
	return &TariffCache{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		items: map[int64]tariffItem{},
	}
}

func (c *TariffCache) GetByID(ctx context.Context, id int64) (*domain.Tariff, error) {
	if t, ok := c.lookup(id); ok {
		return t, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		if t, ok := c.lookup(id); ok {
			return t, nil
		}
		t, err := c.next.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[id] = tariffItem{tariff: *t, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*domain.Tariff)
	return &out, nil
}

// Invalidate drops a tariff so the next read goes to the store
func (c *TariffCache) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

func (c *TariffCache) lookup(id int64) (*domain.Tariff, bool) {
	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.Invalidate(id)
		return nil, false
	}
	t := item.tariff
	return &t, true
}
