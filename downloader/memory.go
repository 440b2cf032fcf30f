package downloader

import (
	"context"
	"sync"
	"time"
)

// Downloader with a process-local cache. A TTL of 0 disables caching,
// which makes this a plain HTTP downloader.
type Memory struct {
	TTL time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	data      []byte
	retrieved time.Time
}

func NewMemory() *Memory {
	return &Memory{
		cache: map[string]cacheEntry{},
	}
}

func (m *Memory) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {

	if m.TTL > 0 {
		m.mu.Lock()
		entry, found := m.cache[url]
		m.mu.Unlock()
		if found && time.Since(entry.retrieved) < m.TTL {
			return entry.data, nil
		}
	}

	data, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	if m.TTL > 0 {
		m.mu.Lock()
		m.cache[url] = cacheEntry{data: data, retrieved: time.Now()}
		m.mu.Unlock()
	}

	return data, nil
}
