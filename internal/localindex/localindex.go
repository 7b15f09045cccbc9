// Package localindex walks a local directory of FITS files, builds a
// CloudIndex document from their scanned HDU layouts, and uploads it to
// the configured index bucket.
package localindex

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/cloudindex"
	"github.com/jbcurtin/cloud-fits/internal/hduscan"
	"github.com/jbcurtin/cloud-fits/internal/readahead"
)

// ScanForFitsFiles walks root and returns every file ending in .fits,
// relative to root.
func ScanForFitsFiles(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".fits") {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			found = append(found, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// BuildIndex scans one FITS file at root/relPath and returns its
// cloudindex.Index entry.
func BuildIndex(root, relPath string) (cloudindex.Index, error) {
	full := filepath.Join(root, relPath)
	r, err := readahead.Open(full, 0)
	if err != nil {
		return cloudindex.Index{}, err
	}
	defer r.Close()

	hdus, err := hduscan.Scan(r)
	if err != nil {
		return cloudindex.Index{}, err
	}

	filename := filepath.Base(relPath)
	indexName := strings.TrimSuffix(filename, filepath.Ext(filename))
	cloudPath := filepath.ToSlash(filepath.Dir(relPath))
	if cloudPath == "." {
		cloudPath = ""
	}
	return cloudindex.FromHDUs(cloudPath, filename, indexName, hdus), nil
}

// BuildAll scans every FITS file under root concurrently (bounded by
// workers) and returns their Index entries. A single file's scan failure
// is logged and skipped rather than aborting the whole directory pass.
func BuildAll(ctx context.Context, root string, relPaths []string, workers int, progress func(done, total int)) ([]cloudindex.Index, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]*cloudindex.Index, len(relPaths))
	var done int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, relPath := range relPaths {
		i, relPath := i, relPath
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			idx, err := BuildIndex(root, relPath)
			if progress != nil {
				progress(int(atomic.AddInt64(&done, 1)), len(relPaths))
			}
			if err != nil {
				klog.Errorf("localindex: skipping %s: %v", relPath, err)
				return nil
			}
			results[i] = &idx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []cloudindex.Index
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Uploader persists a blob at key within bucket (an authenticated PUT
// against the index-bucket object-store endpoint).
type Uploader func(ctx context.Context, bucket, key string, body []byte) error

// Upload encodes doc to YAML and persists it at cloudindex.IndexKey within
// doc.IndexBucketName via upload.
func Upload(ctx context.Context, upload Uploader, doc cloudindex.CloudIndex) error {
	raw, err := cloudindex.Encode(doc)
	if err != nil {
		return err
	}
	return upload(ctx, doc.IndexBucketName, cloudindex.IndexKey, raw)
}
