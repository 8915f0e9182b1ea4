package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bdgd-cnpj/internal/retry"
)

// DefaultBaseURL is the Casa dos Dados mirror of the Receita Federal files
const DefaultBaseURL = "https://dados-abertos-rf-cnpj.casadosdados.com.br/arquivos/2026-01-11/"

// HTTPError is an unexpected download status
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Temporary reports whether the status is worth retrying
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Downloader fetches the bulk files into a directory, resuming partial files
type Downloader struct {
	BaseURL string
	Dir     string
	Client  *http.Client
	Policy  retry.Policy
}

// DownloadResult lists the outcome of every requested file
type DownloadResult struct {
	Downloaded []string `json:"downloaded"`
	Failed     []string `json:"failed"`
	Bytes      int64    `json:"bytes"`
}

// NewDownloader creates a downloader with the default retry policy
func NewDownloader(baseURL, dir string) *Downloader {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	policy := retry.Default("download", 5)
	policy.Retryable = retryableDownload
	return &Downloader{
		BaseURL: baseURL,
		Dir:     dir,
		Client:  &http.Client{Timeout: 0},
		Policy:  policy,
	}
}

func retryableDownload(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func (d *Downloader) fileURL(name string) string {
	base := d.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + name + ".zip"
}

// Download fetches every file of groups, all groups when empty. A failed file
// is logged and the next one is attempted.
func (d *Downloader) Download(ctx context.Context, groups []string) (DownloadResult, error) {
	var res DownloadResult
	if len(groups) == 0 {
		groups = GroupOrder
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create %s: %w", d.Dir, err)
	}

	var names []string
	for _, g := range groups {
		files, ok := FileGroups[g]
		if !ok {
			log.Printf("Unknown group %q, skipping", g)
			continue
		}
		names = append(names, files...)
	}

	log.Printf("Downloading %d files to %s", len(names), d.Dir)
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log.Printf("[%d/%d] %s.zip", i+1, len(names), name)

		var written int64
		err := d.Policy.Do(ctx, func(ctx context.Context) error {
			n, err := d.fetch(ctx, name)
			written += n
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Printf("Failed to download %s.zip: %v", name, err)
			res.Failed = append(res.Failed, name)
			continue
		}
		res.Downloaded = append(res.Downloaded, name)
		res.Bytes += written
	}

	log.Printf("Download complete: %d/%d files", len(res.Downloaded), len(names))
	return res, nil
}

// fetch downloads one file, resuming from the size already on disk
func (d *Downloader) fetch(ctx context.Context, name string) (int64, error) {
	dest := filepath.Join(d.Dir, name+".zip")
	u := d.fileURL(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, retry.Permanent(err)
	}

	var existing int64
	if info, err := os.Stat(dest); err == nil {
		existing = info.Size()
		if existing > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
		}
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		log.Printf("  %s.zip already complete (%d MB)", name, existing>>20)
		return 0, nil
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		flags |= os.O_TRUNC
		existing = 0
	default:
		return 0, &HTTPError{StatusCode: resp.StatusCode, URL: u}
	}

	f, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return 0, retry.Permanent(fmt.Errorf("failed to open %s: %w", dest, err))
	}
	defer f.Close()

	start := time.Now()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to write %s after %d bytes: %w", dest, n, err)
	}
	log.Printf("  %s.zip complete (%.1f MB in %v)", name, float64(existing+n)/(1<<20), time.Since(start).Round(time.Second))
	return n, nil
}

// Discover lists the known files linked from the index page at BaseURL
func (d *Downloader) Discover(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: d.BaseURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	html := string(body)

	var found []string
	for _, name := range AllFiles() {
		if strings.Contains(html, name+".zip") && !slices.Contains(found, name) {
			found = append(found, name)
		}
	}
	log.Printf("Found %d files at %s", len(found), d.BaseURL)
	return found, nil
}
