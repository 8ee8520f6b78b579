// Package cookies imports the backend's session cookies from a locally
// installed browser, so a viewer who is already signed in through the web
// frontend is recognised without logging in again.
package cookies

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // register finders for major browsers
)

// ExtractFromBrowser loads cookies for baseURL from the requested browser
// family ("chrome", "chromium", "edge", "brave", "firefox", "opera", "safari").
// A specific profile can be chosen with "chrome:/path/to/Profile".
func ExtractFromBrowser(browser, baseURL string) ([]*http.Cookie, error) {
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("invalid baseURL host in %q", baseURL)
	}

	want, wantProfile := splitBrowser(browser)

	stores := kooky.FindAllCookieStores()
	defer func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}()

	var use []kooky.CookieStore
	for _, s := range stores {
		if normalizeBrowser(s.Browser()) != want {
			continue
		}
		if wantProfile != "" && !matchesProfile(s.FilePath(), wantProfile) {
			continue
		}
		use = append(use, s)
	}
	if len(use) == 0 {
		return nil, fmt.Errorf("no %s cookie stores found", want)
	}

	// Session cookies (no expiry) are kept; the backend's login relies on them.
	var found []*http.Cookie
	for _, s := range use {
		cc, err := s.ReadCookies(kooky.DomainHasSuffix(host))
		if err != nil {
			continue
		}
		for _, kc := range cc {
			hc := kc.Cookie
			found = append(found, &hc)
		}
	}

	out := dedupe(found)
	if len(out) == 0 {
		return nil, fmt.Errorf("no cookies for %q found in %s", host, want)
	}
	return out, nil
}

func splitBrowser(s string) (name, profile string) {
	if i := strings.IndexByte(s, ':'); i > 0 {
		return normalizeBrowser(s[:i]), s[i+1:]
	}
	return normalizeBrowser(s), ""
}

func normalizeBrowser(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "chrome", "google chrome":
		return "chrome"
	case "edge", "microsoft edge":
		return "edge"
	case "chromium", "brave", "firefox", "opera", "safari":
		return s
	default:
		return "chrome"
	}
}

func matchesProfile(storePath, want string) bool {
	if samePath(storePath, want) {
		return true
	}
	return strings.Contains(strings.ToLower(storePath), strings.ToLower(want))
}

func samePath(a, b string) bool {
	ra := filepath.Clean(a)
	rb := filepath.Clean(b)
	if ea, err := filepath.EvalSymlinks(ra); err == nil {
		ra = ea
	}
	if eb, err := filepath.EvalSymlinks(rb); err == nil {
		rb = eb
	}
	return ra == rb
}

// dedupe keeps the first cookie per domain, path and name.
func dedupe(in []*http.Cookie) []*http.Cookie {
	seen := make(map[string]bool, len(in))
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		key := strings.ToLower(c.Domain) + "\t" + c.Path + "\t" + c.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
