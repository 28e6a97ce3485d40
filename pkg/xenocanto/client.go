package xenocanto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultAPIURL is the recordings endpoint of the public API.
// Docs: https://xeno-canto.org/explore/api
const DefaultAPIURL = "https://xeno-canto.org/api/2/recordings"

var (
	ErrNoRecordings       = errors.New("xenocanto: page contains no recordings")
	ErrInconsistentPage   = errors.New("xenocanto: page totals disagree with first page")
	ErrDuplicateRecording = errors.New("xenocanto: duplicate recording id")
	ErrCountMismatch      = errors.New("xenocanto: assembled recordings do not add up to total")
)

// StatusError is returned when the API answers with a non-200 status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

var tracer trace.Tracer = otel.Tracer("github.com/iziplay/xeno-corpus/pkg/xenocanto")

// ClientConfig configures a Client. Zero values fall back to defaults.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration // per page request, default 30s
	UserAgent  string
	HTTPClient *http.Client
}

// Client queries the recordings endpoint
type Client struct {
	baseURL   string
	timeout   time.Duration
	userAgent string
	http      *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:   cfg.BaseURL,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		http:      cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultAPIURL
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c
}

// FetchPage fetches a single page of results for query
func (c *Client) FetchPage(ctx context.Context, query Query, page int) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	params := u.Query()
	params.Set("query", query.String())
	params.Set("page", strconv.Itoa(page))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	slog.Debug("Fetching page", "query", query.String(), "page", page)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode page %d: %w", page, err)
	}
	if len(body.Recordings) == 0 {
		return nil, fmt.Errorf("page %d: %w", page, ErrNoRecordings)
	}

	return body.toPage(), nil
}

// FetchComposite fetches every page of query and assembles them into a single
// page. Any inconsistency between pages aborts the whole fetch: the upstream
// is expected to describe a stable snapshot.
func (c *Client) FetchComposite(ctx context.Context, query Query) (*Page, error) {
	ctx, span := tracer.Start(ctx, "xenocanto.FetchComposite",
		trace.WithAttributes(attribute.String("xc.query", query.String())))
	defer span.End()

	composite, err := c.FetchPage(ctx, query, 1)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	seen := make(map[string]struct{}, composite.NumRecordings)
	recordings := make([]Recording, 0, composite.NumRecordings)
	add := func(p *Page) error {
		for _, r := range p.Recordings {
			if _, dup := seen[r.ID]; dup {
				return fmt.Errorf("page %d, id %s: %w", p.Page, r.ID, ErrDuplicateRecording)
			}
			seen[r.ID] = struct{}{}
			recordings = append(recordings, r)
		}
		return nil
	}

	if err := add(composite); err != nil {
		return nil, err
	}

	for n := 2; n <= composite.NumPages; n++ {
		page, err := c.FetchPage(ctx, query, n)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		if page.NumRecordings != composite.NumRecordings ||
			page.NumSpecies != composite.NumSpecies ||
			page.NumPages != composite.NumPages ||
			page.Page != n {
			err := fmt.Errorf("page %d reports %d recordings, %d species, page %d/%d; first page reports %d recordings, %d species, %d pages: %w",
				n, page.NumRecordings, page.NumSpecies, page.Page, page.NumPages,
				composite.NumRecordings, composite.NumSpecies, composite.NumPages, ErrInconsistentPage)
			span.RecordError(err)
			return nil, err
		}

		if err := add(page); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if len(recordings) != composite.NumRecordings {
		err := fmt.Errorf("got %d, want %d: %w", len(recordings), composite.NumRecordings, ErrCountMismatch)
		span.RecordError(err)
		return nil, err
	}

	composite.Recordings = recordings
	composite.NumPages = 1

	span.SetAttributes(attribute.Int("xc.recordings", len(recordings)))
	slog.Info("Fetched composite page", "query", query.String(), "recordings", len(recordings), "species", composite.NumSpecies)
	return composite, nil
}
