package cloudindex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/jbcurtin/cloud-fits/internal/awssig"
	"github.com/jbcurtin/cloud-fits/internal/metrics"
	"github.com/jbcurtin/cloud-fits/internal/rangefetch"
)

// HTTPLoader builds a Loader that fetches the raw index document from its
// region's S3 endpoint with a signed GET, for use with Cache.
func HTTPLoader(region string, creds awssig.Credentials) Loader {
	client := rangefetch.NewIndexClient()
	return func(ctx context.Context, bucket, key string) ([]byte, error) {
		host := fmt.Sprintf("s3.%s.amazonaws.com", region)
		path := fmt.Sprintf("/%s/%s", bucket, key)
		url := fmt.Sprintf("https://%s%s", host, path)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("host", host)

		signed, err := awssig.SignedHeaders(awssig.Request{
			Method: http.MethodGet,
			Host:   host,
			Path:   path,
		}, creds)
		if err != nil {
			return nil, err
		}
		for k, v := range signed {
			req.Header[k] = v
		}

		resp, err := client.Do(req)
		statusLabel := "error"
		if err == nil {
			statusLabel = strconv.Itoa(resp.StatusCode)
		}
		metrics.RemoteFileHTTPRequestsTotal.WithLabelValues("GET", statusLabel).Inc()
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("index GET %s returned status %d", url, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}
