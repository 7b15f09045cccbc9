// Package rangefetch issues many authenticated ranged object-store GETs
// concurrently, reassembles the returned bytes in requested order, and
// fails the whole request on the first permanent per-range failure.
package rangefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	concurrently "github.com/tejzpr/ordered-concurrently/v3"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/awssig"
	"github.com/jbcurtin/cloud-fits/internal/ferrors"
	"github.com/jbcurtin/cloud-fits/internal/metrics"
	"github.com/jbcurtin/cloud-fits/internal/rangecache"
)

// Config controls fetcher concurrency and retry behavior. Zero values fall
// back to DefaultConfig.
type Config struct {
	// Concurrency is the maximum number of in-flight requests.
	Concurrency int
	// Retries is the number of attempts per range before giving up.
	Retries int
	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt.
	InitialBackoff time.Duration
	// RequesterPays sets x-amz-request-payer: requester on every request.
	RequesterPays bool
}

// DefaultConfig returns the default fetcher parameters: 250 in-flight
// requests, 3 attempts per range, 100ms initial backoff.
func DefaultConfig() Config {
	return Config{Concurrency: 250, Retries: 3, InitialBackoff: 100 * time.Millisecond}
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 250
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	return c
}

// Fetcher issues ranged GETs against one object-store URL.
type Fetcher struct {
	client *http.Client
	url    string
	host   string
	path   string
	creds  awssig.Credentials
	cfg    Config
	cache  *rangecache.Cache
}

// New builds a Fetcher for the given object URL (scheme://host/path), to be
// signed with creds.
func New(rawURL, host, path string, creds awssig.Credentials, cfg Config) *Fetcher {
	return &Fetcher{
		client: NewRangedClient(),
		url:    rawURL,
		host:   host,
		path:   path,
		creds:  creds,
		cfg:    cfg.withDefaults(),
	}
}

// NewCached builds a Fetcher identical to New, but fronted by a read-through
// rangecache.Cache bounded to maxCacheBytes of this object's data region
// (size objectSize). A requested byte range that lies entirely within one
// already-cached range (a repeat, or a sub-range) is served from cache
// instead of re-issuing a ranged GET, within one FetchAll call or across
// calls on the same Fetcher; a range that only partly overlaps cached data
// is fetched in full. Concurrent requests for the same missing range share
// a single in-flight fetch.
func NewCached(rawURL, host, path string, creds awssig.Credentials, cfg Config, objectSize, maxCacheBytes int64) *Fetcher {
	f := New(rawURL, host, path, creds, cfg)
	f.cache = rangecache.New(objectSize, path, f.fetchRangeReadAt, maxCacheBytes)
	return f
}

// fetchRangeReadAt adapts fetchRangeWithRetry to rangecache.Fetcher's
// io.ReaderAt-style signature. rangecache.Cache.Get has no context parameter
// to thread through, matching the range-cache's ReaderAt-shaped fetcher
// contract; cancellation of an in-flight cache-miss fetch is therefore
// best-effort at the HTTP client's own per-request timeout, not ctx-driven.
func (f *Fetcher) fetchRangeReadAt(p []byte, off int64) (int, error) {
	data, status, err := f.fetchRangeWithRetry(context.Background(), Range{Start: off, Stop: off + int64(len(p))})
	if err != nil {
		return 0, ferrors.NewFetchFailed(0, status, err)
	}
	n := copy(p, data)
	return n, nil
}

// byteRange is the minimal range shape the fetcher needs; both sliceplan.Range
// and sliceplan.BinTablePlan.Range satisfy this via simple field access, so
// callers pass plain start/stop pairs to avoid a sliceplan import cycle.
type byteRange struct {
	start int64
	stop  int64
}

// FetchAll fetches every range in order, returning one buffer per range in
// the same order as input. On the first permanent failure, all sibling
// in-flight requests are cancelled and a FetchFailedErr is returned; no
// partial result is returned.
func (f *Fetcher) FetchAll(ctx context.Context, ranges []Range) ([][]byte, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requestID := uuid.NewString()
	klog.V(4).Infof("rangefetch[%s]: fetching %d ranges", requestID, len(ranges))

	results := make([][]byte, len(ranges))
	var firstErr error
	var errMu sync.Mutex
	var cleanupErrs error

	inputChan := make(chan concurrently.WorkFunction, f.cfg.Concurrency)
	outputChan := concurrently.Process(ctx, inputChan, &concurrently.Options{
		PoolSize:         f.cfg.Concurrency,
		OutChannelBuffer: f.cfg.Concurrency,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for out := range outputChan {
			res := out.Value.(fetchResult)
			if res.err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = res.err
					cancel()
				} else {
					cleanupErrs = multierr.Append(cleanupErrs, res.err)
				}
				errMu.Unlock()
				continue
			}
			results[res.index] = res.data
		}
	}()

	for i, r := range ranges {
		inputChan <- fetchTask{fetcher: f, index: i, r: r}
	}
	close(inputChan)
	wg.Wait()

	if firstErr != nil {
		if cleanupErrs != nil {
			klog.V(4).Infof("rangefetch[%s]: cancellation cleanup errors: %v", requestID, cleanupErrs)
		}
		return nil, firstErr
	}
	klog.V(4).Infof("rangefetch[%s]: completed %d ranges", requestID, len(ranges))
	return results, nil
}

// Range is a half-open byte range [Start, Stop) to fetch, expressed
// independently of sliceplan.Range so this package has no upward
// dependency on the planner.
type Range struct {
	Start int64
	Stop  int64
}

type fetchResult struct {
	index int
	data  []byte
	err   error
}

type fetchTask struct {
	fetcher *Fetcher
	index   int
	r       Range
}

// Run implements concurrently.WorkFunction.
func (t fetchTask) Run(ctx context.Context) interface{} {
	if t.fetcher.cache != nil {
		data, err := t.fetcher.cache.Get(ctx, t.r.Start, t.r.Stop-t.r.Start)
		if err != nil {
			ff, _ := ferrors.IsFetchFailed(err)
			status := 0
			if ff != nil {
				status = ff.LastStatus
			}
			return fetchResult{index: t.index, err: ferrors.NewFetchFailed(t.index, status, err)}
		}
		return fetchResult{index: t.index, data: data}
	}
	data, status, err := t.fetcher.fetchRangeWithRetry(ctx, t.r)
	if err != nil {
		return fetchResult{index: t.index, err: ferrors.NewFetchFailed(t.index, status, err)}
	}
	return fetchResult{index: t.index, data: data}
}

// fetchRangeWithRetry performs one range read, making up to cfg.Retries
// attempts in total with doubling backoff between them.
func (f *Fetcher) fetchRangeWithRetry(ctx context.Context, r Range) ([]byte, int, error) {
	backoff := f.cfg.InitialBackoff
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt < f.cfg.Retries; attempt++ {
		data, status, err := f.fetchRangeOnce(ctx, r)
		if err == nil {
			return data, status, nil
		}
		lastErr = err
		lastStatus = status

		if attempt == f.cfg.Retries-1 {
			break
		}
		metrics.RangeFetchRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return nil, lastStatus, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil, lastStatus, fmt.Errorf("exhausted %d retries: %w", f.cfg.Retries, lastErr)
}

func (f *Fetcher) fetchRangeOnce(ctx context.Context, r Range) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.Stop-1))
	req.Header.Set("host", f.host)

	signed, err := awssig.SignedHeaders(awssig.Request{
		Method:        http.MethodGet,
		Host:          f.host,
		Path:          f.path,
		RequesterPays: f.cfg.RequesterPays,
	}, f.creds)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range signed {
		req.Header[k] = v
	}

	resp, err := f.client.Do(req)
	statusLabel := "error"
	if err == nil {
		statusLabel = strconv.Itoa(resp.StatusCode)
	}
	metrics.RemoteFileHTTPRequestsTotal.WithLabelValues("GET", statusLabel).Inc()
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d for range [%d,%d)", resp.StatusCode, r.Start, r.Stop)
	}

	want := int(r.Stop - r.Start)
	buf := make([]byte, want)
	n, err := io.ReadFull(resp.Body, buf)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	metrics.RangeFetchBytesTotal.Add(float64(n))
	return buf[:n], resp.StatusCode, nil
}
