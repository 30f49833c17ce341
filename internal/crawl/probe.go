package crawl

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
	"github.com/rs/zerolog/log"
)

// probe runs the HEAD-then-optional-GET protocol against a resource URL and
// returns the resulting check (not yet persisted) plus the availability
// classification: true for 2xx, false for errors and other statuses, nil
// when the origin throttled us (429).
func (c *Crawler) probe(ctx context.Context, res models.Resource) (models.Check, *bool) {
	check := models.Check{
		ResourceID: res.ResourceID,
		URL:        res.URL,
		CreatedAt:  time.Now().UTC(),
	}

	start := time.Now()
	resp, err := c.request(ctx, http.MethodHead, res.URL)
	if err == nil && switchToGet(resp) {
		resp.Body.Close()
		resp, err = c.request(ctx, http.MethodGet, res.URL)
	}
	elapsed := time.Since(start).Milliseconds()
	check.ResponseTimeMs = &elapsed

	if err != nil {
		msg := shortError(err)
		check.Error = &msg
		if isTimeout(err) {
			check.Timeout = true
		}
		log.Debug().Str("url", res.URL).Str("error", msg).Msg("Probe transport failure")
		available := false
		return check, &available
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	status := resp.StatusCode
	check.Status = &status
	check.Headers = lowercaseHeaders(resp.Header)
	if status >= 500 {
		msg := http.StatusText(status)
		check.Error = &msg
	}

	var available *bool
	switch {
	case status == http.StatusTooManyRequests:
		// The throttling is on our side, availability is unknown.
		available = nil
	case status >= 200 && status < 300:
		v := true
		available = &v
	default:
		v := false
		available = &v
	}
	return check, available
}

func (c *Crawler) request(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return c.client.Do(req)
}

// switchToGet applies the probe escalation rule: a GET follows the HEAD iff
// the HEAD was not a 2xx (501 being the classic "HEAD unsupported" answer)
// or was a 2xx without a usable Content-Length.
func switchToGet(resp *http.Response) bool {
	if resp.StatusCode == http.StatusNotImplemented {
		return true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return true
	}
	return resp.Header.Get("Content-Length") == ""
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// shortError reduces transport errors to the stable inner message, without
// the method/URL noise url.Error prepends.
func shortError(err error) string {
	e := err
	for {
		unwrapped := errors.Unwrap(e)
		if unwrapped == nil {
			break
		}
		e = unwrapped
	}
	return e.Error()
}

// parseContentType extracts the bare media type from a Content-Type header
// value, dropping parameters like charset.
func parseContentType(value string) string {
	if value == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(value); err == nil {
		return mediaType
	}
	ct, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(ct)
}
