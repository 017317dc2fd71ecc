// Package transport issues the HEAD and ranged GET requests the engine
// needs, classifying failures into the shared error taxonomy and
// pooling connections per origin the way the teacher's DanzoHTTPClient
// does, generalized to keep a cache shared across an engine's segments.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nilfheim/boltget/internal/dlerr"
)

// Config mirrors the teacher's HTTPClientConfig: one struct threaded
// through CLI flags into every client the engine creates.
type Config struct {
	Timeout        time.Duration
	KeepAlive      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool
	MaxRedirects   int

	// LowSpeedLimit and LowSpeedWindow bound GetStream's own stall
	// detection, independent of any higher-level supervisor timeout: a
	// transfer that stays below LowSpeedLimit bytes/sec for an entire
	// LowSpeedWindow fails with dlerr.KindStallDetected. Zero values
	// fall back to 1 KiB/s over 20s; a negative value in either field
	// disables this check.
	LowSpeedLimit  int64
	LowSpeedWindow time.Duration
}

const defaultUserAgent = "boltget/1.0"

var filenameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_\-. ]+`)

// Client wraps one *http.Client tuned for range requests against a
// single origin (or family of origins behind the same transport).
type Client struct {
	http *http.Client
	cfg  Config
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 90 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}
	if cfg.LowSpeedWindow == 0 {
		cfg.LowSpeedWindow = 20 * time.Second
	}
	if cfg.LowSpeedLimit == 0 {
		cfg.LowSpeedLimit = 1024 // 1 KiB/s
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KeepAlive,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0,
		ForceAttemptHTTP2:   true,
	}
	// cfg.Timeout bounds connecting and waiting for response headers; a
	// body that keeps flowing is policed by GetStream's stall monitor.
	transport.DialContext = (&net.Dialer{Timeout: cfg.Timeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.Timeout
	transport.ResponseHeaderTimeout = cfg.Timeout
	if cfg.HighThreadMode {
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	maxRedirects := cfg.MaxRedirects
	return &Client{
		http: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		cfg: cfg,
	}
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
}

// ServerFacts is the immutable result of the initial HEAD probe.
type ServerFacts struct {
	StatusCode     int
	ContentLength  int64
	SupportsRanges bool
	ContentType    string
	FileName       string
}

// ByteRange is an inclusive HTTP byte range. End == -1 means open-ended
// ("bytes=start-").
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Head issues a HEAD request and extracts size, range support, content
// type, and any server-hinted filename.
func (c *Client) Head(ctx context.Context, rawURL string) (ServerFacts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return ServerFacts{}, dlerr.New(dlerr.KindInvalidURL, "transport/head", err)
	}
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return ServerFacts{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if kind := classifyStatus(resp.StatusCode); kind != "" {
		return ServerFacts{}, dlerr.New(kind, "transport/head", fmt.Errorf("status %d", resp.StatusCode))
	}

	facts := ServerFacts{
		StatusCode:     resp.StatusCode,
		SupportsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:    resp.Header.Get("Content-Type"),
		FileName:       filenameFromResponse(resp),
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			facts.ContentLength = n
		}
	}
	return facts, nil
}

func filenameFromResponse(resp *http.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameSanitizer.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && fn != "" {
		if rest, ok := strings.CutPrefix(fn, "UTF-8''"); ok {
			if unescaped, err := url.PathUnescape(rest); err == nil {
				return filenameSanitizer.ReplaceAllString(unescaped, "_")
			}
		}
	}
	return ""
}

// OnBytes receives one chunk of body data, already positioned; it
// returns the number of bytes it accepted and any error writing them.
type OnBytes func(chunk []byte) (int, error)

// OnCancelPoll is polled between reads; when it returns true the
// transfer aborts with dlerr.KindCancelled.
type OnCancelPoll func() bool

// GetStream performs a ranged GET and streams the body through onBytes,
// polling onCancelPoll between reads so callers can cancel cooperatively
// without waiting for the whole transfer.
func (c *Client) GetStream(ctx context.Context, rawURL string, r ByteRange, bufSize int, onBytes OnBytes, onCancelPoll OnCancelPoll) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return dlerr.New(dlerr.KindInvalidURL, "transport/get", err)
	}
	req.Header.Set("Range", r.Header())
	req.Header.Set("Connection", "keep-alive")
	c.applyHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		if kind := classifyStatus(resp.StatusCode); kind != "" {
			return dlerr.New(kind, "transport/get", fmt.Errorf("status %d", resp.StatusCode))
		}
		return dlerr.New(dlerr.KindServerError, "transport/get", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if bufSize <= 0 {
		bufSize = 256 * 1024
	}
	buf := make([]byte, bufSize)

	monitor := newStallMonitor(c.cfg.LowSpeedLimit, c.cfg.LowSpeedWindow)
	pollInterval := monitor.pollInterval()

	type readResult struct {
		n   int
		err error
	}
	resultCh := make(chan readResult, 1)
	issueRead := func() {
		n, err := resp.Body.Read(buf)
		resultCh <- readResult{n, err}
	}
	go issueRead()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			if onCancelPoll != nil && onCancelPoll() {
				return dlerr.New(dlerr.KindCancelled, "transport/get", nil)
			}
			if res.n > 0 {
				monitor.observe(res.n)
				if _, writeErr := onBytes(buf[:res.n]); writeErr != nil {
					return dlerr.New(dlerr.KindWriteError, "transport/get", writeErr)
				}
			}
			if res.err != nil {
				if res.err == io.EOF {
					return nil
				}
				return classifyTransportErr(res.err)
			}
			go issueRead()
		case <-ticker.C:
			if onCancelPoll != nil && onCancelPoll() {
				return dlerr.New(dlerr.KindCancelled, "transport/get", nil)
			}
			if monitor.check() {
				return dlerr.New(dlerr.KindStallDetected, "transport/get", fmt.Errorf("throughput below %d B/s for %s", c.cfg.LowSpeedLimit, c.cfg.LowSpeedWindow))
			}
		}
	}
}

// stallMonitor is GetStream's own idle/low-speed timeout, deliberately
// separate from (and lower-level than) any tick-based stall monitor a
// caller layers on top: it watches one connection's raw read rate, not
// a segment's overall forward progress.
type stallMonitor struct {
	limit      int64
	window     time.Duration
	windowLow  time.Time
	bytesSince int64
	disabled   bool
}

func newStallMonitor(limit int64, window time.Duration) *stallMonitor {
	if limit <= 0 || window <= 0 {
		return &stallMonitor{disabled: true}
	}
	return &stallMonitor{limit: limit, window: window, windowLow: time.Now()}
}

// pollInterval is how often the read loop wakes up to poll
// onCancelPoll and evaluate the stall window, even while a Read call
// is blocked waiting for more bytes.
func (m *stallMonitor) pollInterval() time.Duration {
	if m.disabled {
		return 250 * time.Millisecond
	}
	interval := m.window / 4
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	return interval
}

func (m *stallMonitor) observe(n int) {
	if m.disabled {
		return
	}
	m.bytesSince += int64(n)
}

// check reports whether the connection has spent a full window below
// the configured floor, then starts a fresh window either way.
func (m *stallMonitor) check() bool {
	if m.disabled {
		return false
	}
	elapsed := time.Since(m.windowLow)
	if elapsed < m.window {
		return false
	}
	rate := float64(m.bytesSince) / elapsed.Seconds()
	m.bytesSince = 0
	m.windowLow = time.Now()
	return rate < float64(m.limit)
}

// DefaultProbeSize is how much of the resource ProbeBandwidth samples
// to estimate throughput before the engine commits to a segment count.
const DefaultProbeSize = 256 * 1024

// ProbeBandwidth times a short ranged GET of the resource's first
// probeSize bytes and returns the observed bytes/sec. Unlike a fixed
// per-file-size table, this reflects the actual link to this server
// right now; callers that can't afford the extra round trip should
// stick to the static table in PlanCount instead.
func (c *Client) ProbeBandwidth(ctx context.Context, rawURL string, probeSize int64) (float64, error) {
	if probeSize <= 0 {
		probeSize = DefaultProbeSize
	}
	start := time.Now()
	var sampled int64
	err := c.GetStream(ctx, rawURL, ByteRange{Start: 0, End: probeSize - 1}, int(probeSize), func(chunk []byte) (int, error) {
		sampled += int64(len(chunk))
		return len(chunk), nil
	}, nil)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 || sampled <= 0 {
		return 0, nil
	}
	return float64(sampled) / elapsed, nil
}

func classifyStatus(code int) dlerr.Kind {
	switch {
	case code == http.StatusNotFound:
		return dlerr.KindNotFound
	case code == http.StatusRequestedRangeNotSatisfiable:
		return dlerr.KindInvalidRange
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return dlerr.KindPermissionDenied
	case code >= 500:
		return dlerr.KindServerError
	case code >= 400:
		return dlerr.KindPermissionDenied
	default:
		return ""
	}
}

func classifyTransportErr(err error) *dlerr.Error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return dlerr.New(dlerr.KindTimeout, "transport", err)
	case errors.Is(err, context.Canceled):
		return dlerr.New(dlerr.KindCancelled, "transport", err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return dlerr.New(dlerr.KindRefused, "transport", err)
	case strings.Contains(msg, "no such host"):
		return dlerr.New(dlerr.KindDNSError, "transport", err)
	case strings.Contains(msg, "tls") || strings.Contains(msg, "certificate"):
		return dlerr.New(dlerr.KindSSLError, "transport", err)
	case strings.Contains(msg, "too many redirects") || strings.Contains(msg, "stopped after"):
		return dlerr.New(dlerr.KindTooManyRedirects, "transport", err)
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF"):
		return dlerr.New(dlerr.KindConnectionLost, "transport", err)
	default:
		return dlerr.New(dlerr.KindNetworkError, "transport", err)
	}
}

// Cache shares Clients across an engine's segments, keyed by origin, so
// that workers hitting the same host reuse DNS lookups and TLS sessions
// instead of each opening an independent connection pool.
type Cache struct {
	mu      sync.Mutex
	clients map[string]*Client
	cfg     Config
}

func NewCache(cfg Config) *Cache {
	return &Cache{clients: make(map[string]*Client), cfg: cfg}
}

func (c *Cache) Get(origin string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[origin]; ok {
		return client
	}
	client := New(c.cfg)
	c.clients[origin] = client
	log.Debug().Str("op", "transport/cache").Str("origin", origin).Msg("opened connection pool")
	return client
}
