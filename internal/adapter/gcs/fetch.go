package gcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/hydroeval/internal/observability"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Stats summarizes a fetch.
type Stats struct {
	Objects int64
	Bytes   int64
}

// Fetcher mirrors every object under bucket/prefix into a local directory,
// keeping paths relative to the prefix.
type Fetcher struct {
	store       ObjectStore
	bucket      string
	prefix      string
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
	backoff     time.Duration
}

// NewFetcher creates a Fetcher.
func NewFetcher(store ObjectStore, bucket, prefix string, concurrency int, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{
		store:       store,
		bucket:      bucket,
		prefix:      prefix,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
		backoff:     initialBackoff,
	}
}

// Fetch downloads all objects into dest. The prefix is matched on path
// segment boundaries; a prefix naming a single object downloads it under its
// base name. The first object that still fails after retries cancels the
// remaining downloads.
func (f *Fetcher) Fetch(ctx context.Context, dest string) (Stats, error) {
	type object struct{ name, target string }
	var objects []object
	err := f.store.ListObjects(ctx, f.bucket, f.prefix, func(name string, _ int64) error {
		if strings.HasSuffix(name, "/") {
			return nil
		}
		target, ok, err := f.localPath(dest, name)
		if err != nil || !ok {
			return err
		}
		objects = append(objects, object{name: name, target: target})
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	f.logger.Info("fetching objects", "bucket", f.bucket, "prefix", f.prefix, "objects", len(objects))

	var count, bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, obj := range objects {
		g.Go(func() error {
			n, err := f.downloadWithRetry(gctx, obj.name, obj.target)
			if err != nil {
				f.metrics.FetchObjects.WithLabelValues("error").Inc()
				return err
			}
			f.metrics.FetchObjects.WithLabelValues("success").Inc()
			f.metrics.FetchBytes.Add(float64(n))
			count.Add(1)
			bytes.Add(n)
			return nil
		})
	}
	err = g.Wait()
	return Stats{Objects: count.Load(), Bytes: bytes.Load()}, err
}

// localPath maps an object name to its file under dest. It reports false for
// objects that share the prefix text but lie outside its directory, such as
// data2/x.csv under prefix data.
func (f *Fetcher) localPath(dest, name string) (string, bool, error) {
	dir := strings.TrimSuffix(f.prefix, "/")
	var rel string
	switch {
	case dir == "":
		rel = name
	case name == dir:
		rel = path.Base(name)
	case strings.HasPrefix(name, dir+"/"):
		rel = strings.TrimPrefix(name, dir+"/")
	default:
		return "", false, nil
	}
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return "", false, fmt.Errorf("object %q escapes destination", name)
	}
	return filepath.Join(dest, rel), true, nil
}

func (f *Fetcher) downloadWithRetry(ctx context.Context, name, target string) (int64, error) {
	backoff := f.backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		n, err := f.download(ctx, name, target)
		if err == nil {
			f.logger.Debug("object downloaded", "object", name, "bytes", n)
			return n, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}
		f.metrics.FetchObjects.WithLabelValues("retry").Inc()
		f.logger.Warn("download failed, retrying", "object", name, "attempt", attempt, "error", err)
		if !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	return 0, fmt.Errorf("download gs://%s/%s: %w", f.bucket, name, lastErr)
}

func (f *Fetcher) download(ctx context.Context, name, target string) (int64, error) {
	r, err := f.store.Download(ctx, f.bucket, name)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	tmp := target + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp) //nolint:errcheck // best-effort cleanup
		return 0, err
	}
	if err := os.Rename(tmp, target); err != nil {
		return 0, fmt.Errorf("move file into place: %w", err)
	}
	return n, nil
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
