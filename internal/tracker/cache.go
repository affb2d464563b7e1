package tracker

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CachedFetcher — кэширующая обёртка над Fetcher.
// Успешные ответы хранятся в LRU с TTL; одновременные запросы
// одной задачи объединяются в один вызов трекера.
type CachedFetcher struct {
	next  Fetcher
	cache *expirable.LRU[string, *Issue]
	group singleflight.Group
}

// NewCachedFetcher создаёт кэш на maxSize задач с временем жизни ttl.
func NewCachedFetcher(next Fetcher, maxSize int, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: expirable.NewLRU[string, *Issue](maxSize, nil, ttl),
	}
}

// FetchIssue возвращает задачу из кэша или запрашивает её у трекера.
func (f *CachedFetcher) FetchIssue(ctx context.Context, issueKey string) (*Issue, error) {
	key := strings.ToUpper(strings.TrimSpace(issueKey))
	if issue, ok := f.cache.Get(key); ok {
		trackerRequestsTotal.WithLabelValues("cache_hit").Inc()
		return issue, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		issue, err := f.next.FetchIssue(ctx, issueKey)
		if err != nil {
			return nil, err
		}
		f.cache.Add(key, issue)
		return issue, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Issue), nil
}

// Invalidate удаляет задачу из кэша.
func (f *CachedFetcher) Invalidate(issueKey string) {
	f.cache.Remove(strings.ToUpper(strings.TrimSpace(issueKey)))
}
