package agentapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"optimus-console-go/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultStreamPath    = "/ws/obs"
	DefaultDevice        = "cuda:0"
	DefaultStatusTimeout = 3 * time.Second
	defaultMaxBody       = 64 << 20
	errorSnippetLimit    = 512
)

type Options struct {
	// URL is scheme://host, optionally with a port.
	URL string
	// Port overrides the port in URL when positive.
	Port           int
	Device         string
	StreamPath     string
	RequestTimeout time.Duration
	StatusTimeout  time.Duration
	MaxBodyBytes   int64
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client talks to the agent server. Every method performs exactly one
// blocking HTTP call and is safe for concurrent use.
type Client struct {
	base       *url.URL
	device     string
	streamPath string
	http       *http.Client
	status     *http.Client
	maxBody    int64
	logger     *zap.Logger
}

func New(opts Options) (*Client, error) {
	base, err := BaseURL(opts.URL, opts.Port)
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	statusTimeout := opts.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = DefaultStatusTimeout
	}
	statusClient := &http.Client{Transport: httpClient.Transport, Timeout: statusTimeout}
	device := opts.Device
	if device == "" {
		device = DefaultDevice
	}
	streamPath := opts.StreamPath
	if streamPath == "" {
		streamPath = DefaultStreamPath
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:       base,
		device:     device,
		streamPath: "/" + strings.TrimLeft(streamPath, "/"),
		http:       httpClient,
		status:     statusClient,
		maxBody:    maxBody,
		logger:     logger.Named("agentapi"),
	}, nil
}

// BaseURL joins the configured server URL and port the way operators write
// them ("http://10.0.0.5" + 9500). A port already present in rawURL wins
// when port is zero.
func BaseURL(rawURL string, port int) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("missing server url")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("server url %q has no host", rawURL)
	}
	if port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

// StreamURL is the observation WebSocket endpoint on the same host.
func (c *Client) StreamURL() string {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = c.base.Path + c.streamPath
	return u.String()
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) do(ctx context.Context, client *http.Client, op, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &types.Error{Kind: types.KindProtocol, Op: op, Err: err}
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return &types.Error{Kind: types.KindProtocol, Op: op, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.Error(err))
		return &types.Error{Kind: types.KindConnection, Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request done",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetLimit))
		return &types.Error{
			Kind:   types.KindProtocol,
			Op:     op,
			Status: resp.StatusCode,
			Err:    errors.New(strings.TrimSpace(string(snippet))),
		}
	}

	reader := io.LimitReader(resp.Body, c.maxBody)
	if out == nil {
		_, _ = io.Copy(io.Discard, reader)
		return nil
	}
	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return &types.Error{Kind: types.KindProtocol, Op: op, Err: fmt.Errorf("decode body: %w", err)}
	}
	return nil
}
