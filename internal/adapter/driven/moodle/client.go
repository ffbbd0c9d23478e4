// Package moodle implements the MoodleClient port against a university's
// Moodle instance using form login. Parsing is deliberately shallow: the
// client detects login success or failure and pulls the course list, nothing
// more.
package moodle

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MoodleClient = (*Client)(nil)

// DefaultTimeout bounds every request to the institution.
const DefaultTimeout = 15 * time.Second

const timeoutMessage = "connection timeout"

var (
	loginTokenRe = regexp.MustCompile(`name="logintoken"\s+value="([^"]+)"`)
	courseLinkRe = regexp.MustCompile(`<a[^>]+href="[^"]*/course/view\.php\?id=(\d+)"[^>]*>([^<]+)</a>`)
	errorBoxRe   = regexp.MustCompile(`(?:id="loginerrormsg"|class="[^"]*(?:login-error|alert-danger)[^"]*")[^>]*>([^<]*)`)
)

// Client talks to Moodle over HTTP. A cookie jar is created per attempt so
// one user's session never leaks into another's; the cache transport is
// shared and only ever caches responses Moodle marks cacheable.
type Client struct {
	transport http.RoundTripper
	timeout   time.Duration
	sanitizer *bluemonday.Policy
}

// NewClient creates a Moodle client with an in-memory caching transport for
// idempotent page fetches.
func NewClient() *Client {
	return &Client{
		transport: httpcache.NewMemoryCacheTransport(),
		timeout:   DefaultTimeout,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// NewClientWithTransport creates a Client with a custom transport and timeout.
// Intended for tests injecting an httptest server.
func NewClientWithTransport(rt http.RoundTripper, timeout time.Duration) *Client {
	return &Client{
		transport: rt,
		timeout:   timeout,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Authenticate performs a form login against the institution. A transport
// timeout is a failed authentication with a fixed message, not an error:
// callers treat it as "the institution did not accept these credentials now".
func (c *Client) Authenticate(ctx context.Context, username, password string, inst model.Institution) (driven.AuthResult, error) {
	httpClient, err := c.sessionClient()
	if err != nil {
		return driven.AuthResult{}, err
	}

	body, _, err := c.get(ctx, httpClient, inst.LoginURL())
	if err != nil {
		if isTimeout(err) {
			return driven.AuthResult{OK: false, Message: timeoutMessage}, nil
		}
		return driven.AuthResult{}, fmt.Errorf("fetch login page: %w", err)
	}

	form := url.Values{
		"username": {username},
		"password": {password},
	}
	if m := loginTokenRe.FindStringSubmatch(body); m != nil {
		form.Set("logintoken", m[1])
	}

	body, finalURL, err := c.postForm(ctx, httpClient, inst.LoginURL(), form)
	if err != nil {
		if isTimeout(err) {
			return driven.AuthResult{OK: false, Message: timeoutMessage}, nil
		}
		return driven.AuthResult{}, fmt.Errorf("submit login form: %w", err)
	}

	return classifyLoginResponse(body, finalURL), nil
}

// FetchCourses logs in and scrapes the user's course list from the dashboard.
// Course names are HTML-unescaped; any markup is stripped by the sanitizer.
func (c *Client) FetchCourses(ctx context.Context, username, password string, inst model.Institution) ([]model.Course, error) {
	httpClient, err := c.sessionClient()
	if err != nil {
		return nil, err
	}

	body, _, err := c.get(ctx, httpClient, inst.LoginURL())
	if err != nil {
		return nil, fmt.Errorf("fetch login page: %w", err)
	}

	form := url.Values{
		"username": {username},
		"password": {password},
	}
	if m := loginTokenRe.FindStringSubmatch(body); m != nil {
		form.Set("logintoken", m[1])
	}

	body, finalURL, err := c.postForm(ctx, httpClient, inst.LoginURL(), form)
	if err != nil {
		return nil, fmt.Errorf("submit login form: %w", err)
	}
	if res := classifyLoginResponse(body, finalURL); !res.OK {
		return nil, fmt.Errorf("moodle login failed: %s", res.Message)
	}

	dashboard, _, err := c.get(ctx, httpClient, strings.TrimRight(inst.MoodleURL, "/")+"/my/")
	if err != nil {
		return nil, fmt.Errorf("fetch dashboard: %w", err)
	}

	var courses []model.Course
	seen := make(map[string]bool)
	for _, m := range courseLinkRe.FindAllStringSubmatch(dashboard, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		courses = append(courses, model.Course{
			ID:   id,
			Name: strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(m[2]))),
		})
	}
	return courses, nil
}

// sessionClient builds an http.Client with a fresh cookie jar over the shared
// transport.
func (c *Client) sessionClient() (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &http.Client{
		Transport: c.transport,
		Timeout:   c.timeout,
		Jar:       jar,
	}, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, rawURL string) (body, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}
	return doRead(client, req)
}

func (c *Client) postForm(ctx context.Context, client *http.Client, rawURL string, form url.Values) (body, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRead(client, req)
}

func doRead(client *http.Client, req *http.Request) (body, finalURL string, err error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	// Cap reads; Moodle pages are small and a runaway body should not OOM us.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", err
	}
	return string(raw), resp.Request.URL.String(), nil
}

// classifyLoginResponse decides whether a login POST landed on a dashboard or
// bounced back to the login form with an error box.
func classifyLoginResponse(body, finalURL string) driven.AuthResult {
	if m := errorBoxRe.FindStringSubmatch(body); m != nil {
		msg := strings.TrimSpace(html.UnescapeString(m[1]))
		if msg == "" {
			msg = "invalid username or password"
		}
		return driven.AuthResult{OK: false, Message: msg}
	}

	// Successful logins redirect away from the login form, typically to /my
	// or a local dashboard module.
	if strings.Contains(finalURL, "/my") || strings.Contains(finalURL, "/local/mydashboard") ||
		strings.Contains(body, "logout") {
		return driven.AuthResult{OK: true, Message: "authenticated"}
	}

	return driven.AuthResult{OK: false, Message: "invalid username or password"}
}

// isTimeout reports whether err is a client timeout or context deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
