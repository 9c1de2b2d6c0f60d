package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/models"
	"golang.org/x/net/publicsuffix"
)

const DefaultTimeout = 15 * time.Second

const (
	pathLogin    = "/api/auth/login"
	pathRefresh  = "/api/auth/refresh"
	pathLogout   = "/api/auth/logout"
	pathMe       = "/api/auth/me"
	pathSessions = "/api/auth/sessions"
)

// APIError is a non-successful envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the auth API. The refresh token lives in the cookie jar and the
// access token in memory; both vanish with the process.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  *TokenStore
	fp      FingerprintSource
	renewer Renewer
	agent   *Agent
	logger  logger.Logger
	timeout time.Duration
}

type Option func(*Client)

// WithHTTPClient sends requests through a copy of hc. hc itself is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithFingerprint(fp FingerprintSource) Option {
	return func(c *Client) { c.fp = fp }
}

func WithRenewer(r Renewer) Option {
	return func(c *Client) { c.renewer = r }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: DefaultTimeout, Jar: jar},
		tokens: &TokenStore{},
		fp:     &DeviceFingerprint{},
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := *c.http
	if hc.Jar == nil {
		hc.Jar = jar
	}
	if c.timeout > 0 {
		hc.Timeout = c.timeout
	}
	c.http = &hc

	if c.logger == nil {
		c.logger = logger.Global()
	}
	if c.renewer == nil {
		c.renewer = RenewerFunc(c.refresh)
	}
	c.agent = NewAgent(c.http, c.tokens, c.renewer, c.logger)

	return c, nil
}

func (c *Client) Tokens() *TokenStore { return c.tokens }

// Do sends req through the renewing agent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.agent.Do(req)
}

func (c *Client) Login(ctx context.Context, email, password string) (*models.UserRes, error) {
	fp, err := c.fp.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to compute fingerprint: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathLogin, models.LoginReq{
		Email:       email,
		Password:    password,
		Fingerprint: fp,
	})
	if err != nil {
		return nil, err
	}

	var res models.LoginRes
	if err := c.call(c.http.Do, req, &res); err != nil {
		return nil, err
	}

	c.tokens.Set(res.AccessToken)
	return &res.User, nil
}

// Refresh renews the access token right away instead of waiting for a 401. It shares
// the renewal with any request the agent is already renewing for.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.agent.Renew(ctx)
	return err
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	fp, err := c.fp.Fingerprint()
	if err != nil {
		return "", fmt.Errorf("failed to compute fingerprint: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathRefresh, models.RefreshReq{Fingerprint: fp})
	if err != nil {
		return "", err
	}

	var res models.RefreshRes
	if err := c.call(c.http.Do, req, &res); err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// Logout ends the current session. The local token is dropped even if the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.tokens.Clear()

	req, err := c.newRequest(ctx, http.MethodPost, pathLogout, nil)
	if err != nil {
		return err
	}
	return c.call(c.agent.Do, req, nil)
}

func (c *Client) Me(ctx context.Context) (*models.MeRes, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathMe, nil)
	if err != nil {
		return nil, err
	}

	var res models.MeRes
	if err := c.call(c.agent.Do, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Sessions(ctx context.Context) ([]models.SessionRes, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathSessions, nil)
	if err != nil {
		return nil, err
	}

	var res []models.SessionRes
	if err := c.call(c.agent.Do, req, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		// bytes.Reader lets net/http populate GetBody, so the agent can replay it
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (c *Client) call(do func(*http.Request) (*http.Response, error), req *http.Request, dst any) error {
	resp, err := do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if dst == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
