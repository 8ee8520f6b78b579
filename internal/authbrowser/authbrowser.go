// Package authbrowser signs the viewer in through the real web frontend in a
// Chrome window and lifts the resulting session (bearer token, user and
// cookies) out of the browser.
package authbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"bookview/internal/identity"
)

type Options struct {
	FrontendURL string        // e.g. http://localhost:5173
	BackendURL  string        // cookies are collected for this origin too
	Headless    bool          // false => show the window so a human can type
	Wait        time.Duration // overall timeout
	UserDataDir string        // optional Chrome profile dir; empty => temp
	Logger      *slog.Logger  // optional: route chromedp logs to slog
	Quiet       bool          // suppress chromedp log output
}

var ErrLoginTimeout = errors.New("browser login did not complete (sign in within the window, or extend BOOKVIEW_LOGIN_WAIT_SECONDS)")

func loginWait() time.Duration {
	if s := os.Getenv("BOOKVIEW_LOGIN_WAIT_SECONDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Minute
}

// storageJS reads what the frontend's auth service leaves in localStorage.
const storageJS = `JSON.stringify({
  token: localStorage.getItem("authToken") || "",
  user: localStorage.getItem("user") || "",
  expiry: localStorage.getItem("tokenExpiry") || ""
})`

// Login opens the frontend's login page and waits until the viewer has
// signed in.
func Login(ctx context.Context, opts Options) (identity.Credentials, error) {
	if opts.FrontendURL == "" {
		return identity.Credentials{}, errors.New("frontend url required")
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = loginWait()
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("allow-insecure-localhost", true),
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}

	actx, acancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer acancel()

	var ctxOpts []chromedp.ContextOption
	if opts.Quiet {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(func(string, ...any) {}),
			chromedp.WithDebugf(func(string, ...any) {}),
			chromedp.WithErrorf(func(string, ...any) {}),
		)
	} else if opts.Logger != nil {
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(func(f string, a ...any) { opts.Logger.Info(fmt.Sprintf(f, a...)) }),
			chromedp.WithDebugf(func(f string, a ...any) { opts.Logger.Debug(fmt.Sprintf(f, a...)) }),
			chromedp.WithErrorf(func(f string, a ...any) { opts.Logger.Warn(fmt.Sprintf(f, a...)) }),
		)
	}
	cctx, cancel := chromedp.NewContext(actx, ctxOpts...)
	defer cancel()
	cctx, timeoutCancel := context.WithTimeout(cctx, wait)
	defer timeoutCancel()

	loginURL := strings.TrimRight(opts.FrontendURL, "/") + "/login"
	if err := chromedp.Run(cctx, network.Enable(), chromedp.Navigate(loginURL)); err != nil {
		return identity.Credentials{}, fmt.Errorf("navigate login: %w", err)
	}

	var creds identity.Credentials
	for {
		var raw string
		if err := chromedp.Run(cctx, chromedp.Evaluate(storageJS, &raw)); err == nil {
			if c, ok := parseStorage(raw); ok {
				creds = c
				break
			}
		}
		select {
		case <-cctx.Done():
			return identity.Credentials{}, ErrLoginTimeout
		case <-time.After(2 * time.Second):
		}
	}

	urls := []string{opts.FrontendURL}
	if opts.BackendURL != "" {
		urls = append(urls, opts.BackendURL)
	}
	var cks []*network.Cookie
	err := chromedp.Run(cctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cks, err = network.GetCookies().WithURLs(urls).Do(ctx)
		return err
	}))
	if err != nil {
		return identity.Credentials{}, fmt.Errorf("get cookies: %w", err)
	}
	creds.Cookies = toHTTPCookies(cks)
	return creds, nil
}

type storedSession struct {
	Token  string `json:"token"`
	User   string `json:"user"`
	Expiry string `json:"expiry"`
}

type storedUser struct {
	ID       json.Number `json:"id"`
	Email    string      `json:"email"`
	Name     string      `json:"name"`
	Username string      `json:"username"`
}

// parseStorage decodes the localStorage snapshot; ok is false until a token
// is present.
func parseStorage(raw string) (identity.Credentials, bool) {
	var s storedSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.Token == "" {
		return identity.Credentials{}, false
	}
	c := identity.Credentials{Token: s.Token}
	if s.User != "" {
		dec := json.NewDecoder(strings.NewReader(s.User))
		dec.UseNumber()
		var u storedUser
		if dec.Decode(&u) == nil {
			name := u.Name
			if name == "" {
				name = u.Username
			}
			c.User = identity.User{ID: u.ID.String(), Email: u.Email, Name: name}
		}
	}
	if ms, err := strconv.ParseInt(strings.TrimSpace(s.Expiry), 10, 64); err == nil && ms > 0 {
		c.ExpiresAt = time.UnixMilli(ms)
	}
	return c, true
}

func toHTTPCookies(cks []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cks))
	for _, ck := range cks {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		}
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
