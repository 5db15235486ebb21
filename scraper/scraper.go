package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
	"github.com/aluiziolira/go-scrape-phones/pipeline"
	"github.com/gocolly/colly/v2"
)

// IdentityRotator obtains a fresh exit identity. A returned error is fatal
// for the run.
type IdentityRotator interface {
	Rotate(ctx context.Context) error
}

// Scraper fetches phone pages one at a time, rotating the Tor identity
// between failed attempts.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	rotator   IdentityRotator
	retry     retryPolicy
	Metrics   *Metrics

	requestCount  int64
	failedCount   int64
	errorCount    int64
	retryCount    int64
	rotationCount int64

	mu           sync.Mutex
	skippedURLs  []string
	errorsByType map[string]int
}

// NewScraper builds a scraper whose requests go through transport. A nil
// transport keeps colly's default, which is only useful in tests.
func NewScraper(cfg *config.Config, transport http.RoundTripper, rotator IdentityRotator) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if rotator == nil {
		return nil, fmt.Errorf("identity rotator is required")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.DisableCookies()
	// Status handling is ours: every 2xx is a success, everything else a
	// failed attempt.
	collector.ParseHTTPErrorResponse = true
	if transport != nil {
		collector.WithTransport(transport)
	}

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		rotator:      rotator,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	s.retry = newRetryPolicy(cfg.MaxAttempts, cfg.RetryBackoff, cfg.RetryBackoffMax)
	s.retry.onRetry = func(attempt int) {
		atomic.AddInt64(&s.retryCount, 1)
		s.Metrics.IncRetries()
	}
	return s, nil
}

// Run scrapes entries in order and stores every successful record through p.
// Entries that exhaust their attempts are skipped. A failed identity rotation,
// a store failure or ctx cancellation stops the run; the partial result is
// returned alongside the error.
func (s *Scraper) Run(ctx context.Context, entries []models.PhoneEntry, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	slog.Info("total phones to scrape", slog.Int("count", len(entries)))

	var runErr error
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		record, err := s.Fetch(ctx, entry)
		if errors.Is(err, ErrRetriesExhausted) {
			slog.Warn("skipped (failed)",
				slog.String("name", entry.Name),
				slog.String("url", entry.URL),
				slog.Any("error", err),
			)
			s.mu.Lock()
			s.skippedURLs = append(s.skippedURLs, entry.URL)
			s.mu.Unlock()
			s.Metrics.IncSkipped()
			continue
		}
		if err != nil {
			runErr = fmt.Errorf("scrape %s: %w", entry.URL, err)
			break
		}

		if err := p.Process(record); err != nil {
			runErr = fmt.Errorf("store %s: %w", entry.URL, err)
			break
		}
		s.Metrics.IncItems()
		slog.Info("saved",
			slog.String("name", entry.Name),
			slog.Int("fields", record.Found()),
			slog.Int("done", i+1),
			slog.Int("total", len(entries)),
		)
	}

	result := &models.ScraperResult{
		StartTime:      start,
		EndTime:        time.Now(),
		TotalCount:     len(entries),
		RecordCount:    p.Processed(),
		ErrorCount:     int(atomic.LoadInt64(&s.errorCount)),
		SkippedURLs:    s.snapshotSkippedURLs(),
		ErrorsByType:   s.snapshotErrors(),
		RetryCount:     int(atomic.LoadInt64(&s.retryCount)),
		RotationCount:  int(atomic.LoadInt64(&s.rotationCount)),
		RequestCount:   int(atomic.LoadInt64(&s.requestCount)),
		FailedRequests: int(atomic.LoadInt64(&s.failedCount)),
	}
	return result, runErr
}

// Fetch downloads and extracts one phone page. It returns ErrRetriesExhausted
// when every attempt failed, or the rotation/context error that aborted it.
func (s *Scraper) Fetch(ctx context.Context, entry models.PhoneEntry) (*models.SpecRecord, error) {
	slog.Info("scraping", slog.String("name", entry.Name), slog.String("url", entry.URL))

	var record *models.SpecRecord
	err := s.retry.Do(ctx,
		func(ctx context.Context, attempt int) error {
			body, err := s.get(entry.URL)
			if err != nil {
				s.recordError(entry.URL, attempt, err)
				return err
			}
			record = parser.ExtractSpecs(body, entry.URL, entry.Name, s.cfg.Fields)
			record.ScrapedAt = time.Now()
			return nil
		},
		func(ctx context.Context, attempt int, _ error) error {
			if err := s.rotator.Rotate(ctx); err != nil {
				return fmt.Errorf("renew tor identity: %w", err)
			}
			atomic.AddInt64(&s.rotationCount, 1)
			s.Metrics.IncRotations()
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// get performs a single GET on a fresh clone of the collector so callbacks
// only see this request. Clones share the transport.
func (s *Scraper) get(rawURL string) ([]byte, error) {
	c := s.collector.Clone()

	var (
		body   []byte
		status int
		sent   bool
	)
	c.OnRequest(func(r *colly.Request) {
		sent = true
		r.Ctx.Put("start", time.Now())
		atomic.AddInt64(&s.requestCount, 1)
		s.Metrics.IncRequest("started")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
		s.observe(r)
		s.Metrics.IncRequest("completed")
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
			s.observe(r)
		}
		s.Metrics.IncRequest("failed")
	})

	err := c.Visit(rawURL)
	switch {
	case err != nil:
		err = classifyError(err, status)
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		err = classifyError(nil, status)
	}
	if err != nil {
		if sent {
			atomic.AddInt64(&s.failedCount, 1)
		}
		return nil, err
	}
	return body, nil
}

func (s *Scraper) observe(r *colly.Response) {
	if r.Request == nil || r.Request.Ctx == nil {
		return
	}
	if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
		s.Metrics.ObserveDuration(time.Since(start))
	}
}

func (s *Scraper) recordError(url string, attempt int, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()
	s.Metrics.IncError(category)

	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		slog.Warn("429 Too Many Requests received, renewing Tor identity",
			slog.String("url", url),
			slog.Int("attempt", attempt),
		)
		return
	}
	slog.Error("request error",
		slog.String("url", url),
		slog.Int("attempt", attempt),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (s *Scraper) snapshotSkippedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.skippedURLs))
	copy(out, s.skippedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
			return ErrHTTPStatus{Code: statusCode, Err: wrapped}
		}
	}

	return err
}
