package downloader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmon.dev/transitmon/downloader"
)

func TestHTTPGet(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	data, err := downloader.HTTPGet(context.Background(), server.URL,
		map[string]string{"Authorization": "key"},
		downloader.GetOptions{MaxSize: 1024, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "key", gotHeader)
}

func TestHTTPGetMaxSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	_, err := downloader.HTTPGet(context.Background(), server.URL, nil,
		downloader.GetOptions{MaxSize: 1024, Timeout: time.Second})
	assert.Error(t, err)
}

func TestMemoryCaches(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	m := downloader.NewMemory()
	m.TTL = time.Hour

	options := downloader.GetOptions{MaxSize: 1024, Timeout: time.Second}
	for i := 0; i < 3; i++ {
		data, err := m.Get(context.Background(), server.URL, nil, options)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), data)
	}
	assert.Equal(t, 1, hits)
}

func TestMemoryWithoutTTLDoesNotCache(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	m := downloader.NewMemory()
	options := downloader.GetOptions{MaxSize: 1024, Timeout: time.Second}
	for i := 0; i < 2; i++ {
		_, err := m.Get(context.Background(), server.URL, nil, options)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, hits)
}
