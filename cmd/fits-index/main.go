// Command fits-index scans a local directory of FITS files and publishes a
// CloudIndex document describing their structural layout to an object-store
// index bucket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/jbcurtin/cloud-fits/internal/awssig"
	"github.com/jbcurtin/cloud-fits/internal/cloudindex"
	"github.com/jbcurtin/cloud-fits/internal/localindex"
	"github.com/jbcurtin/cloud-fits/internal/objecturl"
)

const debounceTime = 250 * time.Millisecond

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "fits-index",
		Usage:       "index a directory of FITS files into a cloud-fits.yaml document",
		Description: "Scans FITS files for their HDU layout and publishes the result as a CloudIndex sidecar for ranged cutout reads.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "fits-files-directory", Aliases: []string{"f"}, Required: true},
			&cli.StringFlag{Name: "index-bucket-name", Aliases: []string{"i"}, Required: true},
			&cli.StringFlag{Name: "data-bucket-path", Aliases: []string{"d"}, Required: true},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "local", Usage: "local or aws-bucket"},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU()},
			&cli.BoolFlag{Name: "watch", Usage: "keep running and re-index files created or modified after the initial scan"},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, runConfig{
				fitsDir:       c.String("fits-files-directory"),
				indexBucket:   c.String("index-bucket-name"),
				dataBucket:    c.String("data-bucket-path"),
				mode:          c.String("mode"),
				workers:       c.Int("workers"),
				watch:         c.Bool("watch"),
			})
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Errorf("fits-index: %v", err)
		os.Exit(1)
	}
}

type runConfig struct {
	fitsDir     string
	indexBucket string
	dataBucket  string
	mode        string
	workers     int
	watch       bool
}

func run(ctx context.Context, cfg runConfig) error {
	if cfg.mode != "local" && cfg.mode != "aws-bucket" {
		return fmt.Errorf("--mode must be local or aws-bucket, got %q", cfg.mode)
	}
	dataBucketURL := objecturl.New(cfg.dataBucket)
	if !dataBucketURL.IsS3() {
		return fmt.Errorf("--data-bucket-path must start with s3://, got %q", cfg.dataBucket)
	}
	if err := objecturl.Validate(dataBucketURL); err != nil {
		return err
	}

	if err := indexOnce(ctx, cfg); err != nil {
		return err
	}
	if !cfg.watch {
		return nil
	}
	return watchAndReindex(ctx, cfg)
}

func indexOnce(ctx context.Context, cfg runConfig) error {
	relPaths, err := localindex.ScanForFitsFiles(cfg.fitsDir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", cfg.fitsDir, err)
	}
	klog.Infof("fits-index: found %d fits files under %s", len(relPaths), cfg.fitsDir)
	if len(relPaths) == 0 {
		return nil
	}

	bar := progressbar.Default(int64(len(relPaths)), "indexing")
	indices, err := localindex.BuildAll(ctx, cfg.fitsDir, relPaths, cfg.workers, func(done, total int) {
		_ = bar.Set(done)
	})
	if err != nil {
		return err
	}

	creds, err := awssig.LoadDefaultCredentials()
	if err != nil {
		return err
	}

	doc := cloudindex.CloudIndex{
		Version:          cloudindex.SupportedVersion,
		AWSDefaultRegion: creds.Region,
		IndexBucketName:  cfg.indexBucket,
		DataBucketPath:   cfg.dataBucket,
		Indices:          indices,
	}

	encoded, err := cloudindex.Encode(doc)
	if err != nil {
		return err
	}
	klog.Infof("fits-index: cloud index is %s (%d file entries)", humanize.Bytes(uint64(len(encoded))), len(indices))

	uploader := localindex.HTTPUploader(creds.Region, creds)
	if err := localindex.Upload(ctx, uploader, doc); err != nil {
		return err
	}
	klog.Infof("fits-index: published %d file entries to s3://%s/%s", len(indices), cfg.indexBucket, cloudindex.IndexKey)
	return nil
}

// watchAndReindex re-runs a full index pass whenever a .fits file is
// created or modified, debounced to coalesce bursts of filesystem events
// into a single reindex.
func watchAndReindex(ctx context.Context, cfg runConfig) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := filepath.WalkDir(cfg.fitsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	}); err != nil {
		return err
	}

	klog.Infof("fits-index: watching %s for changes", cfg.fitsDir)

	var debounce *time.Timer
	reindex := func() {
		if ctx.Err() != nil {
			return
		}
		if err := indexOnce(ctx, cfg); err != nil {
			klog.Errorf("fits-index: re-index failed: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".fits") {
				continue
			}
			klog.V(4).Infof("fits-index: change detected: %s", ev.Name)
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceTime, reindex)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("fits-index: watcher error: %v", err)
		}
	}
}
