// Command fits-cutout loads a published CloudIndex, plans a slice or row
// range against one HDU of one indexed FITS file, fetches the
// corresponding byte ranges from the data bucket, and writes a
// synthesized FITS file containing just the requested cutout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/awssig"
	"github.com/jbcurtin/cloud-fits/internal/cloudindex"
	"github.com/jbcurtin/cloud-fits/internal/cutout"
	"github.com/jbcurtin/cloud-fits/internal/ferrors"
	"github.com/jbcurtin/cloud-fits/internal/hduscan"
	"github.com/jbcurtin/cloud-fits/internal/metrics"
	"github.com/jbcurtin/cloud-fits/internal/objecturl"
	"github.com/jbcurtin/cloud-fits/internal/rangefetch"
	"github.com/jbcurtin/cloud-fits/internal/sliceplan"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:  "fits-cutout",
		Usage: "fetch an N-dimensional cutout of an indexed FITS file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "index-bucket-name", Required: true},
			&cli.StringFlag{Name: "index-name", Required: true, Usage: "index_name of the file within the CloudIndex"},
			&cli.IntFlag{Name: "hdu", Value: 1, Usage: "HDU index to cut out"},
			&cli.StringFlag{Name: "slice", Required: true, Usage: "comma-separated start:stop pairs per axis, or start:stop row range for bintables"},
			&cli.StringFlag{Name: "out", Required: true},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, runConfig{
				indexBucket: c.String("index-bucket-name"),
				indexName:   c.String("index-name"),
				hduIndex:    c.Int("hdu"),
				sliceSpec:   c.String("slice"),
				outPath:     c.String("out"),
			})
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Errorf("fits-cutout: %v", err)
		os.Exit(1)
	}
}

// defaultRangeCacheBytes bounds the per-object byte-range cache fronting
// the fetcher, so a single cutout request with many repeated or adjacent
// ranges (e.g. a coalesced but still overlapping odometer pass) does not
// grow memory unbounded.
const defaultRangeCacheBytes = 256 << 20

type runConfig struct {
	indexBucket string
	indexName   string
	hduIndex    int
	sliceSpec   string
	outPath     string
}

func run(ctx context.Context, cfg runConfig) error {
	start := time.Now()
	defer func() {
		metrics.CutoutDuration.Observe(time.Since(start).Seconds())
	}()

	creds, err := awssig.LoadDefaultCredentials()
	if err != nil {
		return err
	}

	loader := cloudindex.HTTPLoader(creds.Region, creds)
	cache := cloudindex.NewCache(loader, 0)
	defer cache.Close()

	doc, err := cache.Get(ctx, cfg.indexBucket, cloudindex.IndexKey)
	if err != nil {
		return err
	}

	dataBucketURL := objecturl.New(doc.DataBucketPath)
	if err := objecturl.Validate(dataBucketURL); err != nil {
		return err
	}
	bucket, _, err := dataBucketURL.BucketAndKey()
	if err != nil {
		return err
	}

	fileIdx, err := findFile(doc, cfg.indexName)
	if err != nil {
		return err
	}
	if cfg.hduIndex < 0 || cfg.hduIndex >= len(fileIdx.Headers) {
		return fmt.Errorf("hdu %d out of range for %d headers: %w", cfg.hduIndex, len(fileIdx.Headers), ferrors.BadSlice)
	}
	fh := fileIdx.Headers[cfg.hduIndex]
	hdu := fh.ToHDU(cfg.hduIndex)
	kind := hdu.Kind

	host := fmt.Sprintf("s3.%s.amazonaws.com", creds.Region)
	dataKey := strings.TrimSuffix(fileIdx.CloudPath, "/") + "/" + fileIdx.Filename
	dataKey = strings.TrimPrefix(dataKey, "/")
	path := fmt.Sprintf("/%s/%s", bucket, dataKey)
	url := fmt.Sprintf("https://%s%s", host, path)

	fetcher := rangefetch.NewCached(url, host, path, creds, rangefetch.DefaultConfig(), hdu.DataStop, defaultRangeCacheBytes)

	var output []byte
	if kind == hduscan.BinTable {
		output, err = runBinTableCutout(ctx, fetcher, doc, fileIdx, hdu, cfg.sliceSpec)
	} else {
		output, err = runImageCutout(ctx, fetcher, hdu, cfg.sliceSpec)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(cfg.outPath, output, 0o644)
}

func findFile(doc cloudindex.CloudIndex, indexName string) (cloudindex.Index, error) {
	for _, idx := range doc.Indices {
		if idx.IndexName == indexName {
			return idx, nil
		}
	}
	return cloudindex.Index{}, fmt.Errorf("no file with index_name %q in cloud index: %w", indexName, ferrors.IndexCorrupt)
}

func runImageCutout(ctx context.Context, fetcher *rangefetch.Fetcher, hdu hduscan.HDU, sliceSpec string) ([]byte, error) {
	views, err := parseImageSlice(sliceSpec, len(hdu.Shape))
	if err != nil {
		return nil, err
	}
	plan, err := sliceplan.PlanImage(hdu, views, true)
	if err != nil {
		return nil, err
	}

	fetchRanges := make([]rangefetch.Range, len(plan.Ranges))
	for i, r := range plan.Ranges {
		fetchRanges[i] = rangefetch.Range{Start: r.Start, Stop: r.Stop}
	}
	payloads, err := fetcher.FetchAll(ctx, fetchRanges)
	if err != nil {
		return nil, err
	}
	return cutout.AssembleImage(hdu, plan.OutputShape, payloads)
}

func runBinTableCutout(ctx context.Context, fetcher *rangefetch.Fetcher, doc cloudindex.CloudIndex, fileIdx cloudindex.Index, hdu hduscan.HDU, sliceSpec string) ([]byte, error) {
	r0, r1, err := parseRowSlice(sliceSpec)
	if err != nil {
		return nil, err
	}
	plan, err := sliceplan.PlanBinTable(hdu, r0, r1)
	if err != nil {
		return nil, err
	}
	payloads, err := fetcher.FetchAll(ctx, []rangefetch.Range{{Start: plan.Range.Start, Stop: plan.Range.Stop}})
	if err != nil {
		return nil, err
	}
	primaryHeader := fileIdx.Headers[0].Header.Whole
	return cutout.AssembleBinTable(primaryHeader, hdu.HeaderBytes, plan.NewNAXIS2, payloads[0])
}

// parseImageSlice parses "start:stop,start:stop,..." into one View per
// axis; a bare integer is treated as a length-1 scalar view.
func parseImageSlice(spec string, rank int) ([]sliceplan.View, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != rank {
		return nil, fmt.Errorf("expected %d axis specs, got %d: %w", rank, len(parts), ferrors.BadSlice)
	}
	views := make([]sliceplan.View, rank)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if !strings.Contains(p, ":") {
			k, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid scalar index %q: %w", p, ferrors.BadSlice)
			}
			views[i] = sliceplan.Scalar(k)
			continue
		}
		bounds := strings.SplitN(p, ":", 2)
		start, err := strconv.ParseInt(bounds[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid start in %q: %w", p, ferrors.BadSlice)
		}
		stop, err := strconv.ParseInt(bounds[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid stop in %q: %w", p, ferrors.BadSlice)
		}
		views[i] = sliceplan.View{Start: start, Stop: stop, Step: 1}
	}
	return views, nil
}

// parseRowSlice parses "start:stop" into a bintable row range.
func parseRowSlice(spec string) (int64, int64, error) {
	bounds := strings.SplitN(spec, ":", 2)
	if len(bounds) != 2 {
		return 0, 0, fmt.Errorf("row slice must be start:stop, got %q: %w", spec, ferrors.BadSlice)
	}
	start, err := strconv.ParseInt(bounds[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid row start %q: %w", bounds[0], ferrors.BadSlice)
	}
	stop, err := strconv.ParseInt(bounds[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid row stop %q: %w", bounds[1], ferrors.BadSlice)
	}
	return start, stop, nil
}
