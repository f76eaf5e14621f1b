package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/object"
)

// Endpoint identifies a protocol endpoint.
// BaseURL is normalized to ".../babel/v1" with no trailing slash.
type Endpoint struct {
	Raw     string
	BaseURL string
	user    string
	pass    string
}

// ParseEndpoint parses a remote URL into a canonical endpoint.
//
// Supported inputs include:
// - https://host (expanded to /babel/v1)
// - https://host/mount (expanded to /mount/babel/v1)
// - https://host/mount/babel/v1
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("remote URL scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("remote URL must include a host")
	}

	p := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(p, APIPrefix) {
		p += APIPrefix
	}

	endpointURL := *u
	endpointURL.Path = p
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user := ""
	pass := ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		user:    user,
		pass:    pass,
	}, nil
}

// ClientOptions tunes a Client.
type ClientOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	// Token is sent as a bearer token. Empty means config.Token().
	Token string
}

// Client speaks the sync protocol to a Server.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	maxAttempts int
}

// NewClient builds a protocol client for a remote URL.
func NewClient(remoteURL string, opts ...ClientOptions) (*Client, error) {
	ep, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}
	var o ClientOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Token == "" {
		o.Token = config.Token()
	}
	return &Client{
		endpoint:    ep,
		httpClient:  &http.Client{Timeout: o.Timeout},
		token:       strings.TrimSpace(o.Token),
		user:        ep.user,
		pass:        ep.pass,
		maxAttempts: o.MaxAttempts,
	}, nil
}

// Endpoint returns the parsed endpoint metadata.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Hashes returns every hash the server holds.
func (c *Client) Hashes(ctx context.Context) ([]object.Hash, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/hashes", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "zstd")
	body, err := c.doWithLimit(req, http.StatusOK, limitHashes, "application/json")
	if err != nil {
		return nil, err
	}
	var resp hashList
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode hashes response: %w", err)
	}
	for _, h := range resp.Hashes {
		if err := object.ValidateHash(h); err != nil {
			return nil, fmt.Errorf("invalid hash in hashes response: %w", err)
		}
	}
	return resp.Hashes, nil
}

// Has asks the server about one hash.
func (c *Client) Has(ctx context.Context, h object.Hash) (bool, error) {
	if err := object.ValidateHash(h); err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint.BaseURL+"/objects/"+string(h), nil)
	if err != nil {
		return false, err
	}
	c.applyAuth(req)
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("remote request failed (%s %s): %s", req.Method, req.URL.Path, http.StatusText(resp.StatusCode))
}

// Fetch downloads one bundle.
func (c *Client) Fetch(ctx context.Context, h object.Hash) (*object.Bundle, error) {
	if err := object.ValidateHash(h); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL+"/objects/"+string(h), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", contentBundle)
	req.Header.Set("Accept-Encoding", "zstd")
	body, err := c.doWithLimit(req, http.StatusOK, limitBundle, contentBundle)
	if err != nil {
		return nil, err
	}
	b, err := decodeBundle(body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", h.Short(), err)
	}
	return b, nil
}

// Push uploads one bundle with a zstd-compressed body. The server
// recomputes every hash and answers 409 on disagreement.
func (c *Client) Push(ctx context.Context, b *object.Bundle) error {
	payload, err := encodeBundle(b)
	if err != nil {
		return err
	}
	compressed, err := compressZstd(payload)
	if err != nil {
		return fmt.Errorf("compress bundle: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.BaseURL+"/objects", bytes.NewReader(compressed))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentBundle)
	req.Header.Set("Content-Encoding", "zstd")
	if _, err := c.doWithLimit(req, http.StatusCreated, limitError, ""); err != nil {
		return err
	}
	return nil
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) doWithLimit(req *http.Request, expectedStatus int, maxBytes int64, expectedContentType string) ([]byte, error) {
	c.applyAuth(req)
	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode != expectedStatus {
		if re := tryParseRemoteError(resp.StatusCode, body); re != nil {
			return nil, re
		}
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("remote request failed (%s %s): %s", req.Method, req.URL.Path, msg)
	}

	if isZstdEncoded(resp.Header.Get("Content-Encoding")) {
		body, err = decompressZstd(body, maxBytes)
		if err != nil {
			return nil, fmt.Errorf("decompress response: %w", err)
		}
	}

	if expectedContentType != "" {
		ct := resp.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, expectedContentType) {
			return nil, fmt.Errorf("unexpected content type %q (expected %s) from %s %s (status %d)",
				ct, expectedContentType, req.Method, req.URL.Path, resp.StatusCode)
		}
	}
	return body, nil
}

func (c *Client) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, ProtocolVersion)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if strings.TrimSpace(c.user) != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}
