package rangefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbcurtin/cloud-fits/internal/awssig"
	"github.com/jbcurtin/cloud-fits/internal/ferrors"
)

func testCreds() awssig.Credentials {
	return awssig.Credentials{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret", Region: "us-east-1"}
}

func fastConfig() Config {
	return Config{Concurrency: 4, Retries: 3, InitialBackoff: time.Millisecond}
}

func TestFetchAll_SucceedsAndReassemblesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		body := []byte(rangeHeader) // echo the range string so we can verify identity per request
		w.Header().Set("Content-Range", rangeHeader)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body)
	}))
	defer srv.Close()

	f := New(srv.URL, "example.com", "/file.fits", testCreds(), fastConfig())
	// each range's length equals the length of its echoed Range header, so
	// the echoed body is exactly the number of bytes the fetcher expects.
	ranges := []Range{{Start: 0, Stop: 9}, {Start: 9, Stop: 19}, {Start: 19, Stop: 30}}

	results, err := f.FetchAll(context.Background(), ranges)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "bytes=0-8", string(results[0]))
	require.Equal(t, "bytes=9-18", string(results[1]))
	require.Equal(t, "bytes=19-29", string(results[2]))
}

func TestFetchAll_EmptyRangesReturnsNil(t *testing.T) {
	f := New("http://unused", "h", "/p", testCreds(), fastConfig())
	results, err := f.FetchAll(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestFetchAll_RetryExhaustionFailsWholeFetch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "bytes=200-299" {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Range", rangeHeader)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := New(srv.URL, "example.com", "/file.fits", testCreds(), fastConfig())
	ranges := []Range{
		{Start: 0, Stop: 100},
		{Start: 100, Stop: 200},
		{Start: 200, Stop: 300}, // this one always 500s
	}

	_, err := f.FetchAll(context.Background(), ranges)
	require.Error(t, err)

	ffe, ok := ferrors.IsFetchFailed(err)
	require.True(t, ok)
	require.Equal(t, 2, ffe.RangeIndex)
	require.Equal(t, http.StatusInternalServerError, ffe.LastStatus)

	require.Equal(t, int32(fastConfig().Retries), atomic.LoadInt32(&calls))
}

func TestFetchAll_NonPartialContentIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // full content, not 206 -- must be rejected
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	f := New(srv.URL, "example.com", "/file.fits", testCreds(), fastConfig())
	_, err := f.FetchAll(context.Background(), []Range{{Start: 0, Stop: 10}})
	require.Error(t, err)

	ffe, ok := ferrors.IsFetchFailed(err)
	require.True(t, ok)
	require.Equal(t, http.StatusOK, ffe.LastStatus)
}

func TestFetchAll_CachedFetcherServesRepeatedRangeWithoutRefetch(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Range", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	f := NewCached(srv.URL, "example.com", "/file.fits", testCreds(), fastConfig(), 1000, 1<<20)

	ranges := []Range{{Start: 0, Stop: 10}, {Start: 0, Stop: 10}, {Start: 10, Stop: 20}}
	results, err := f.FetchAll(context.Background(), ranges)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, results[0], results[1])

	// two distinct ranges were requested ([0,10) and [10,20)); the repeat of
	// [0,10) must be served from cache, not a third HTTP round trip.
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchAll_CachedFetcherPropagatesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewCached(srv.URL, "example.com", "/file.fits", testCreds(), fastConfig(), 1000, 1<<20)
	_, err := f.FetchAll(context.Background(), []Range{{Start: 0, Stop: 10}})
	require.Error(t, err)

	ffe, ok := ferrors.IsFetchFailed(err)
	require.True(t, ok)
	require.Equal(t, http.StatusInternalServerError, ffe.LastStatus)
}

func TestFetchAll_ShortBodyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 3)) // caller asked for 10 bytes
	}))
	defer srv.Close()

	f := New(srv.URL, "example.com", "/file.fits", testCreds(), fastConfig())
	_, err := f.FetchAll(context.Background(), []Range{{Start: 0, Stop: 10}})
	require.Error(t, err)
}
