package localindex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/awssig"
	"github.com/jbcurtin/cloud-fits/internal/metrics"
	"github.com/jbcurtin/cloud-fits/internal/rangefetch"
)

// HTTPUploader builds an Uploader that PUTs the index document to the
// given region's S3 endpoint, signed with creds.
func HTTPUploader(region string, creds awssig.Credentials) Uploader {
	client := rangefetch.NewIndexClient()
	return func(ctx context.Context, bucket, key string, body []byte) error {
		host := fmt.Sprintf("s3.%s.amazonaws.com", region)
		path := fmt.Sprintf("/%s/%s", bucket, key)
		url := fmt.Sprintf("https://%s%s", host, path)

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.ContentLength = int64(len(body))
		req.Header.Set("host", host)

		signed, err := awssig.SignedHeaders(awssig.Request{
			Method:  http.MethodPut,
			Host:    host,
			Path:    path,
			Payload: body,
		}, creds)
		if err != nil {
			return err
		}
		for k, v := range signed {
			req.Header[k] = v
		}

		resp, err := client.Do(req)
		statusLabel := "error"
		if err == nil {
			statusLabel = strconv.Itoa(resp.StatusCode)
		}
		metrics.RemoteFileHTTPRequestsTotal.WithLabelValues("PUT", statusLabel).Inc()
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("index upload to %s failed with status %d: %s", url, resp.StatusCode, string(respBody))
		}
		klog.Infof("localindex: uploaded index to s3://%s/%s", bucket, key)
		return nil
	}
}
