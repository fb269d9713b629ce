// Command coupon-ingest bulk-imports campaign coupon dumps. Each input file
// is a gzip-compressed stream of JSON lines, one coupon rule per line.
// Campaign tooling exports overlapping dumps, so codes are deduplicated
// across files before writing: the first occurrence of a code wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kanvei/coupon-service/internal/coupon"
	"github.com/kanvei/coupon-service/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		createdBy   string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing campaign dump files")
	flag.StringVar(&pattern, "pattern", "*.jsonl.gz", "glob pattern for dump files within data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&createdBy, "created-by", "coupon-ingest", "created_by recorded on imported coupons")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, createdBy); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL, createdBy string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "glob dump files")
	}
	if len(files) == 0 {
		return errors.Errorf("no dump files matching %s in %s", pattern, dataDir)
	}
	slog.Info("found dump files", slog.Int("count", len(files)))

	specs, err := collectSpecs(ctx, files, createdBy)
	if err != nil {
		return err
	}
	slog.Info("unique valid coupons found", slog.Int("count", len(specs)))

	if len(specs) == 0 {
		slog.Info("nothing to import")
		return nil
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return writeCoupons(ctx, repository.NewCouponRepository(pool), specs)
}

// dedupe tracks codes already accepted across all files. The bloom filter
// answers the common case cheaply; the exact set confirms hits, since bloom
// positives can be false.
type dedupe struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDedupe() *dedupe {
	return &dedupe{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		seen:   make(map[string]struct{}),
	}
}

// claim reports whether code was unseen, marking it seen.
func (d *dedupe) claim(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(code) {
		if _, ok := d.seen[code]; ok {
			return false
		}
	}
	d.filter.AddString(code)
	d.seen[code] = struct{}{}
	return true
}

// collectSpecs streams all files concurrently, parsing and validating each
// line and keeping the first occurrence of every code.
func collectSpecs(ctx context.Context, files []string, createdBy string) ([]coupon.Spec, error) {
	var (
		mu    sync.Mutex
		specs []coupon.Spec
	)
	dd := newDedupe()

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(scanFile(ctx, f, createdBy, dd, func(s coupon.Spec) {
			mu.Lock()
			specs = append(specs, s)
			mu.Unlock()
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return specs, nil
}

func scanFile(ctx context.Context, path, createdBy string, dd *dedupe, emit func(coupon.Spec)) func() error {
	return func() error {
		var total, accepted, rejected uint64

		err := streamGzFile(ctx, path, func(line []byte) {
			total++
			if total%progressEvery == 0 {
				slog.Info("scan progress", slog.String("file", path), slog.Uint64("lines", total))
			}

			spec, err := parseRecord(line, createdBy)
			if err != nil {
				rejected++
				return
			}
			if err := spec.Validate(); err != nil {
				rejected++
				return
			}
			if !dd.claim(coupon.NormalizeCode(spec.Code)) {
				return
			}
			accepted++
			emit(spec)
		})
		if err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("scan complete",
			slog.String("file", path),
			slog.Uint64("lines", total),
			slog.Uint64("accepted", accepted),
			slog.Uint64("rejected", rejected),
		)
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// parseRecord decodes one JSON line into a coupon spec. Unknown keys are
// skipped so dump format additions don't break older ingest binaries.
func parseRecord(line []byte, createdBy string) (coupon.Spec, error) {
	spec := coupon.Spec{
		UserUsageLimit: 1,
		Active:         true,
		CreatedBy:      createdBy,
	}

	d := jx.DecodeBytes(line)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			s, err := d.Str()
			spec.Code = s
			return err
		case "description":
			s, err := d.Str()
			spec.Description = s
			return err
		case "kind":
			s, err := d.Str()
			spec.Kind = coupon.DiscountKind(s)
			return err
		case "value":
			v, err := decodeDecimal(d)
			spec.Value = v
			return err
		case "min_order_amount":
			v, err := decodeDecimal(d)
			spec.MinOrderAmount = v
			return err
		case "max_discount_amount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := decodeDecimal(d)
			spec.MaxDiscountAmount = &v
			return err
		case "usage_limit":
			if d.Next() == jx.Null {
				return d.Null()
			}
			n, err := d.Int()
			spec.UsageLimit = &n
			return err
		case "user_usage_limit":
			n, err := d.Int()
			spec.UserUsageLimit = n
			return err
		case "valid_from":
			t, err := decodeTime(d)
			spec.ValidFrom = t
			return err
		case "valid_to":
			t, err := decodeTime(d)
			spec.ValidTo = t
			return err
		case "active":
			b, err := d.Bool()
			spec.Active = b
			return err
		case "categories":
			ids, err := decodeStrings(d)
			spec.Scope.Categories = coupon.FilterFromValues(ids)
			return err
		case "excluded_categories":
			ids, err := decodeStrings(d)
			spec.Scope.ExcludedCategories = coupon.FilterFromValues(ids)
			return err
		case "products":
			ids, err := decodeStrings(d)
			spec.Scope.Products = coupon.FilterFromValues(ids)
			return err
		case "excluded_products":
			ids, err := decodeStrings(d)
			spec.Scope.ExcludedProducts = coupon.FilterFromValues(ids)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return coupon.Spec{}, errors.Wrap(err, "decode record")
	}
	return spec, nil
}

// decodeDecimal accepts both bare numbers and string-encoded numbers.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.Trim(n.String(), `"`))
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	ids := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		ids = append(ids, s)
		return nil
	})
	return ids, err
}

// writeCoupons upserts all imported coupons. Re-running the ingest against
// the same dumps updates rules without resetting usage counters.
func writeCoupons(ctx context.Context, repo *repository.CouponRepository, specs []coupon.Spec) error {
	slog.Info("writing coupons to database", slog.Int("count", len(specs)))

	now := time.Now()
	for i, spec := range specs {
		c := spec.Materialize(now)
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		if (i+1)%100 == 0 || i+1 == len(specs) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(specs)))
		}
	}

	return nil
}
