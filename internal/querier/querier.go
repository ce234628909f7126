// Package querier is the HTTP client for the core service. It negotiates the
// API version spoken by the core, injects the api key, and fails over across
// core hosts on connection errors.
package querier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"
)

// supportedVersions lists the core API versions this SDK can speak.
var supportedVersions = []string{"1.0", "1.1", "1.2"}

const (
	apiVersionHeader = "api-version"
	ridHeader        = "rid"

	versionPath = "/apiversion"
	helloPath   = "/hello"
)

// Config carries the connection parameters for the core service.
type Config struct {
	// Hosts are the base URLs of the core instances, e.g. "http://localhost:3567".
	Hosts []string

	// APIKey is attached to every request when set.
	APIKey string

	// Client is the HTTP client to use. Defaults to http.DefaultClient.
	Client *http.Client
}

// Querier issues JSON calls against the core. It is safe for concurrent use
// and is expected to live for the whole process. Derive recipe-scoped views
// with WithRecipeID; they share the negotiated version and failover state.
type Querier struct {
	recipeID string
	s        *shared
}

// shared is the per-process connection state behind all recipe-scoped views.
type shared struct {
	hosts  []string
	client *http.Client

	cursor atomic.Uint64

	versionGroup singleflight.Group
	versionMu    sync.RWMutex
	apiVersion   string

	tracer trace.Tracer
	calls  metric.Int64Counter
}

func New(cfg Config) (*Querier, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("querier: no core hosts configured")
	}

	hosts := make([]string, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		hosts[i] = strings.TrimRight(h, "/")
	}

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	if cfg.APIKey != "" {
		client = &http.Client{
			Transport: &apiKeyRoundTripper{
				apiKey: cfg.APIKey,
				next:   transportOf(client),
			},
			CheckRedirect: client.CheckRedirect,
			Jar:           client.Jar,
			Timeout:       client.Timeout,
		}
	}

	meter := otel.Meter(
		"sessiond-go/querier",
		metric.WithInstrumentationVersion(otel.Version()),
	)

	calls, err := meter.Int64Counter(
		"core.request_count",
		metric.WithDescription("Core service request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return nil, oops.In("querier").Wrapf(err, "creating request_count meter")
	}

	return &Querier{
		s: &shared{
			hosts:  hosts,
			client: client,
			tracer: otel.Tracer("sessiond-go/querier"),
			calls:  calls,
		},
	}, nil
}

// WithRecipeID returns a view of the querier that sends rid on its recipe
// calls. The underlying connection state is shared.
func (q *Querier) WithRecipeID(rid string) *Querier {
	return &Querier{recipeID: rid, s: q.s}
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}

	return http.DefaultTransport
}

type apiKeyRoundTripper struct {
	apiKey string
	next   http.RoundTripper
}

func (t *apiKeyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("api-key", t.apiKey)

	return t.next.RoundTrip(req)
}

// APIVersion returns the negotiated core API version, performing the
// negotiation on first use. Concurrent callers share a single negotiation.
func (q *Querier) APIVersion(ctx context.Context) (string, error) {
	q.s.versionMu.RLock()
	v := q.s.apiVersion
	q.s.versionMu.RUnlock()

	if v != "" {
		return v, nil
	}

	res, err, _ := q.s.versionGroup.Do("negotiate", func() (any, error) {
		var out struct {
			Versions []string `json:"versions"`
		}

		if err := q.send(ctx, http.MethodGet, versionPath, nil, nil, &out); err != nil {
			return nil, fmt.Errorf("fetching core API versions: %w", err)
		}

		best, ok := latestCommonVersion(out.Versions, supportedVersions)
		if !ok {
			return nil, fmt.Errorf("core API versions %v are not compatible with this SDK (supports %v)",
				out.Versions, supportedVersions)
		}

		q.s.versionMu.Lock()
		q.s.apiVersion = best
		q.s.versionMu.Unlock()

		return best, nil
	})
	if err != nil {
		return "", err
	}

	return res.(string), nil
}

// Hello probes core connectivity without negotiating a version.
func (q *Querier) Hello(ctx context.Context) error {
	return q.send(ctx, http.MethodGet, helloPath, nil, nil, nil)
}

// Get issues a GET request against a recipe path.
func (q *Querier) Get(ctx context.Context, path string, query url.Values, out any) error {
	return q.send(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request with a JSON body against a recipe path.
func (q *Querier) Post(ctx context.Context, path string, body, out any) error {
	return q.send(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT request with a JSON body against a recipe path.
func (q *Querier) Put(ctx context.Context, path string, body, out any) error {
	return q.send(ctx, http.MethodPut, path, nil, body, out)
}

// send tries each host once, moving to the next only on connection errors.
// HTTP-level failures surface immediately since every host shares the same
// core state.
func (q *Querier) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var version string

	if path != versionPath && path != helloPath {
		v, err := q.APIVersion(ctx)
		if err != nil {
			return err
		}

		version = v
	}

	var payload []byte

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}

		payload = b
	}

	var lastErr error

	for range q.s.hosts {
		host := q.nextHost()

		err := q.sendOnce(ctx, host, method, path, query, version, payload, out)
		if err == nil {
			return nil
		}

		if !isConnectionError(err) || ctx.Err() != nil {
			return err
		}

		slogctx.Warn(ctx, "Core host unreachable, trying next", "host", host, "error", err)
		lastErr = err
	}

	return oops.In("querier").
		WithContext(ctx).
		Wrapf(lastErr, "no core host reachable after %d attempts", len(q.s.hosts))
}

func (q *Querier) sendOnce(ctx context.Context, host, method, path string, query url.Values, version string, payload []byte, out any) error {
	ctx, span := q.s.tracer.Start(ctx, method+" "+path, trace.WithAttributes(
		attribute.String("core.host", host),
		attribute.String("core.path", path),
	))
	defer span.End()

	q.s.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("core.path", path),
		attribute.String("core.method", method),
	))

	target := host + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating a new HTTP request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if version != "" {
		req.Header.Set(apiVersionHeader, version)

		if q.recipeID != "" {
			req.Header.Set(ridHeader, q.recipeID)
		}
	}

	resp, err := q.s.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing an http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf("core returned status %d for %s %s: %s",
			resp.StatusCode, method, path, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding core response: %w", err)
	}

	return nil
}

func (q *Querier) nextHost() string {
	idx := q.s.cursor.Add(1) - 1

	return q.s.hosts[idx%uint64(len(q.s.hosts))]
}

// isConnectionError reports whether err is a transport-level failure worth
// retrying on another host. HTTP responses of any status are not connection
// errors.
func isConnectionError(err error) bool {
	var urlErr *url.Error

	return errors.As(err, &urlErr)
}

// latestCommonVersion picks the highest version present in both lists.
func latestCommonVersion(server, sdk []string) (string, bool) {
	best := ""

	for _, v := range server {
		if !slices.Contains(sdk, v) {
			continue
		}

		if best == "" || newerVersion(v, best) {
			best = v
		}
	}

	return best, best != ""
}

// newerVersion reports whether a > b comparing dot-separated numeric parts.
func newerVersion(a, b string) bool {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		an, _ := strconv.Atoi(aParts[i])
		bn, _ := strconv.Atoi(bParts[i])

		if an != bn {
			return an > bn
		}
	}

	return len(aParts) > len(bParts)
}
