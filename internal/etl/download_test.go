package etl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileServer serves fixed bodies with Range support and counts requests
type fileServer struct {
	mu       sync.Mutex
	files    map[string]string
	failures map[string]int
	status   map[string]int
	ranges   map[string]string
	requests map[string]int
}

func newFileServer(files map[string]string) *fileServer {
	return &fileServer{
		files:    files,
		failures: map[string]int{},
		status:   map[string]int{},
		ranges:   map[string]string{},
		requests: map[string]int{},
	}
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		fmt.Fprint(w, `<html><a href="Cnaes.zip">Cnaes.zip</a> <a href="Simples.zip">Simples.zip</a> <a href="other.zip">x</a></html>`)
		return
	}
	s.requests[name]++
	s.ranges[name] = r.Header.Get("Range")

	if s.failures[name] > 0 {
		s.failures[name]--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if code, ok := s.status[name]; ok {
		w.WriteHeader(code)
		return
	}
	body, ok := s.files[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if rng := r.Header.Get("Range"); rng != "" {
		from, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
		if from >= len(body) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, body[from:])
		return
	}
	fmt.Fprint(w, body)
}

func testDownloader(t *testing.T, srv *httptest.Server) *Downloader {
	t.Helper()
	d := NewDownloader(srv.URL+"/", t.TempDir())
	d.Client = srv.Client()
	d.Policy.InitialInterval = time.Millisecond
	d.Policy.MaxInterval = 2 * time.Millisecond
	d.Policy.MaxAttempts = 3
	return d
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(b)
}

func lookupBodies() map[string]string {
	files := map[string]string{}
	for _, name := range FileGroups[GroupLookups] {
		files[name+".zip"] = name + "-content"
	}
	return files
}

func TestDownloadGroup(t *testing.T) {
	fs := newFileServer(lookupBodies())
	srv := httptest.NewServer(fs)
	defer srv.Close()
	d := testDownloader(t, srv)

	res, err := d.Download(context.Background(), []string{GroupLookups, "nonsense"})
	require.NoError(t, err)

	assert.Equal(t, FileGroups[GroupLookups], res.Downloaded)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "Cnaes-content", readFile(t, d.Dir, "Cnaes.zip"))
	assert.Empty(t, fs.ranges["Cnaes.zip"])
}

func TestDownloadResumes(t *testing.T) {
	fs := newFileServer(map[string]string{"Simples.zip": "0123456789"})
	srv := httptest.NewServer(fs)
	defer srv.Close()
	d := testDownloader(t, srv)

	require.NoError(t, os.WriteFile(filepath.Join(d.Dir, "Simples.zip"), []byte("01234"), 0o644))

	res, err := d.Download(context.Background(), []string{GroupSimples})
	require.NoError(t, err)

	assert.Equal(t, []string{"Simples"}, res.Downloaded)
	assert.Equal(t, "bytes=5-", fs.ranges["Simples.zip"])
	assert.Equal(t, int64(5), res.Bytes)
	assert.Equal(t, "0123456789", readFile(t, d.Dir, "Simples.zip"))

	t.Run("complete file answers 416", func(t *testing.T) {
		res, err := d.Download(context.Background(), []string{GroupSimples})
		require.NoError(t, err)
		assert.Equal(t, []string{"Simples"}, res.Downloaded)
		assert.Zero(t, res.Bytes)
		assert.Equal(t, "0123456789", readFile(t, d.Dir, "Simples.zip"))
	})
}

func TestDownloadRewritesOnFullResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()
	d := testDownloader(t, srv)

	require.NoError(t, os.WriteFile(filepath.Join(d.Dir, "Simples.zip"), []byte("stale partial data"), 0o644))

	_, err := d.Download(context.Background(), []string{GroupSimples})
	require.NoError(t, err)
	assert.Equal(t, "fresh", readFile(t, d.Dir, "Simples.zip"))
}

func TestDownloadFailures(t *testing.T) {
	fs := newFileServer(lookupBodies())
	fs.failures["Cnaes.zip"] = 2
	fs.failures["Municipios.zip"] = 10
	fs.status["Naturezas.zip"] = http.StatusForbidden
	srv := httptest.NewServer(fs)
	defer srv.Close()
	d := testDownloader(t, srv)

	res, err := d.Download(context.Background(), []string{GroupLookups})
	require.NoError(t, err)

	assert.Equal(t, []string{"Municipios", "Naturezas"}, res.Failed)
	assert.Equal(t, []string{"Cnaes", "Qualificacoes", "Motivos", "Paises"}, res.Downloaded)
	assert.Equal(t, 3, fs.requests["Cnaes.zip"])
	assert.Equal(t, 3, fs.requests["Municipios.zip"])
	assert.Equal(t, 1, fs.requests["Naturezas.zip"])
}

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(newFileServer(nil))
	defer srv.Close()
	d := testDownloader(t, srv)

	found, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Simples", "Cnaes"}, found)
}
