// Package fetch retrieves numeric samples from external data sources.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Fetcher returns the current value for key. Implementations must be safe
// for concurrent use and honour ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (float64, error)
}

// SourceOf names the source that serves key: the failing source from a
// fetch error, the routing source when f can split keys, else "unknown".
func SourceOf(f Fetcher, key string, err error) string {
	var fe *Error
	if errors.As(err, &fe) && fe.Source != "" {
		return fe.Source
	}
	if s, ok := f.(interface{ Split(string) (string, string) }); ok {
		if source, _ := s.Split(key); source != "" {
			return source
		}
	}
	return "unknown"
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, key string) (float64, error)

func (f FetcherFunc) Fetch(ctx context.Context, key string) (float64, error) {
	return f(ctx, key)
}

// Kind classifies fetch failures
type Kind string

const (
	KindNetwork     Kind = "network"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindDecode      Kind = "decode"
	KindTimeout     Kind = "timeout"
)

// Error is a typed fetch failure.
type Error struct {
	Source string
	Key    string
	Kind   Kind
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s %q: %s: %v", e.Source, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sentinel causes
var (
	ErrUnknownKey    = errors.New("unknown key")
	ErrUnknownSource = errors.New("unknown source")
	ErrBadStatus     = errors.New("unexpected status")
)

// KindOf returns the kind of a fetch error. Errors that are not *Error are
// reported as network failures unless they carry a context deadline.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// IsKind reports whether err is a fetch error of kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(source, key string, kind Kind, err error) *Error {
	return &Error{Source: source, Key: key, Kind: kind, Err: err}
}

// getJSON issues a GET and decodes the JSON body into out, mapping failures
// onto fetch error kinds.
func getJSON(ctx context.Context, client *http.Client, source, key, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return newError(source, key, KindNetwork, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return newError(source, key, KindTimeout, ctx.Err())
		}
		return newError(source, key, KindNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return newError(source, key, KindNotFound, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return newError(source, key, KindRateLimited, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return newError(source, key, KindNetwork, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return newError(source, key, KindTimeout, ctx.Err())
		}
		return newError(source, key, KindNetwork, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(source, key, KindDecode, err)
	}
	return nil
}

// 8MB; the USGS month feeds are the largest payloads
const maxBodySize = 8 * 1024 * 1024
