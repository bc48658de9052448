package cpih

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/JoshuaAtOfwat/pricereview-dev/internal/failure"
)

const (
	DefaultURL = "https://www.ons.gov.uk/generator?format=csv&uri=/economy/inflationandpriceindices/timeseries/l522/mm23"

	// The ONS generator rejects requests without a browser user agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"
)

// Source yields the reference index for a run.
type Source interface {
	Get(ctx context.Context) (*Index, error)
}

type Config struct {
	URL        string
	UserAgent  string
	Options    Options
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Provider fetches the index over HTTP. It never retries: a non-200 response
// or transport error is ErrUpstreamUnavailable and ends the run.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Options.BaseYear == "" {
		cfg.Options = DefaultOptions()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Get(ctx context.Context) (*Index, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/csv")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, failure.New(failure.CodeUpstreamUnavailable, err.Error(), ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, failure.New(failure.CodeUpstreamUnavailable, fmt.Sprintf("%s returned status %d", p.cfg.URL, resp.StatusCode), ErrUpstreamUnavailable)
	}

	ix, stats, err := ParseCSV(resp.Body, p.cfg.Options)
	if err != nil {
		return nil, err
	}
	p.cfg.Logger.Debug("cpih index parsed",
		slog.Int("records", stats.Records),
		slog.Int("monthly", stats.Monthly),
		slog.Int("dropped", stats.Dropped),
		slog.Int("fiscal_years", ix.Len()))
	return ix, nil
}

// FileSource reads a previously downloaded ONS CSV.
type FileSource struct {
	Path    string
	Options Options
}

func (f FileSource) Get(context.Context) (*Index, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, failure.New(failure.CodeUpstreamUnavailable, err.Error(), ErrUpstreamUnavailable)
	}
	defer fh.Close()
	opts := f.Options
	if opts.BaseYear == "" {
		opts = DefaultOptions()
	}
	ix, _, err := ParseCSV(fh, opts)
	return ix, err
}
