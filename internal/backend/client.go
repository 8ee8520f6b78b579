package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"bookview/internal/identity"
	"bookview/internal/order"
)

var (
	ErrUnauthorized = errors.New("authentication required, please login")
	ErrForbidden    = errors.New("access denied")
	ErrNotFound     = errors.New("orders endpoint not found, check the backend API path")
	ErrServer       = errors.New("server error, please try again later")
)

// Client talks to the order backend's REST API.
type Client struct {
	baseURL string
	apiPath string
	jar     *cookiejar.Jar
	httpc   *http.Client
	session *identity.Session
	logger  *slog.Logger
}

func NewClient(baseURL, apiPath string, timeout time.Duration, session *identity.Session, logger *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if session == nil {
		session = identity.NewSession(identity.Credentials{})
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiPath: "/" + strings.Trim(apiPath, "/"),
		jar:     jar,
		httpc:   &http.Client{Jar: jar, Timeout: timeout},
		session: session,
		logger:  logger.With(slog.String("component", "backend")),
	}
	if c.apiPath == "/" {
		c.apiPath = ""
	}
	c.InjectCookies(session.Cookies())
	return c
}

func (c *Client) BaseURL() string          { return c.baseURL }
func (c *Client) HTTPClient() *http.Client { return c.httpc }

// InjectCookies seeds the jar, e.g. with cookies imported from a browser.
func (c *Client) InjectCookies(cks []*http.Cookie) {
	if len(cks) == 0 {
		return
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, cks)
}

// Cookies returns what the jar currently holds for the backend.
func (c *Client) Cookies() []*http.Cookie {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

func (c *Client) url(p string) string {
	return fmt.Sprintf("%s%s%s", c.baseURL, c.apiPath, p)
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(p), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.session.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// FetchOrders pulls the full active order set across all symbols.
func (c *Client) FetchOrders(ctx context.Context) ([]order.Record, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to backend at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}
	recs, err := order.DecodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	c.logger.Debug("fetched orders", slog.Int("records", len(recs)))
	return recs, nil
}

// Health reports whether the backend answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return statusError(resp.StatusCode, nil)
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
	User      struct {
		ID       json.Number `json:"id"`
		Email    string      `json:"email"`
		Username string      `json:"username"`
	} `json:"user"`
	Message string `json:"message"`
}

// Login exchanges email and password for a bearer token and installs the
// result into the session.
func (c *Client) Login(ctx context.Context, email, password string) (identity.Credentials, error) {
	b, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := c.newRequest(ctx, http.MethodPost, "/login", bytes.NewReader(b))
	if err != nil {
		return identity.Credentials{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return identity.Credentials{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := statusError(resp.StatusCode, body); err != nil {
		return identity.Credentials{}, fmt.Errorf("login: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var lr loginResponse
	if err := dec.Decode(&lr); err != nil {
		return identity.Credentials{}, fmt.Errorf("decode login: %w", err)
	}
	if lr.Token == "" {
		return identity.Credentials{}, errors.New("login: no token in response")
	}
	creds := identity.Credentials{
		Token:   lr.Token,
		User:    identity.User{ID: lr.User.ID.String(), Email: lr.User.Email, Name: lr.User.Username},
		Cookies: c.Cookies(),
	}
	if lr.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(lr.ExpiresIn) * time.Second)
	}
	c.session.Replace(creds)
	return creds, nil
}

// statusError maps a non-2xx answer to an error a viewer can act on.
func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return fmt.Errorf("%w (status %d)", ErrServer, code)
	}
	var v struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &v) == nil {
		if v.Error != "" {
			return fmt.Errorf("backend status %d: %s", code, v.Error)
		}
		if v.Message != "" {
			return fmt.Errorf("backend status %d: %s", code, v.Message)
		}
	}
	return fmt.Errorf("backend status %d", code)
}
