package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// sessionCookie is the cookie the backend issues at authentication and
// expects on every subsequent call.
const sessionCookie = "session_id"

// Client speaks JSON-RPC 2.0 over HTTP to one backend instance. It carries
// no global timeout: every call takes a context and the caller sets the
// deadline, so the long-poll endpoint can be held open longer than ordinary
// calls without spurious client-side timeouts.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *zap.Logger

	mu      sync.RWMutex
	session string
}

// New creates a client for the given base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    r,
		baseURL: baseURL,
		logger:  logger,
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetSession binds the session token sent as the session_id cookie.
func (c *Client) SetSession(token string) {
	c.mu.Lock()
	c.session = token
	c.mu.Unlock()
}

// ClearSession drops the bound session token.
func (c *Client) ClearSession() {
	c.SetSession("")
}

// Session returns the currently bound session token.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// envelope is the JSON-RPC 2.0 request wrapper the backend expects.
type envelope struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// response is the JSON-RPC 2.0 response wrapper.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *wireError      `json:"error"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call posts params to path and decodes the result member into out. A nil
// out discards the result. Errors are always *Error so callers can branch
// on Kind.
func (c *Client) Call(ctx context.Context, path string, params any, out any) error {
	_, err := c.call(ctx, path, params, out)
	return err
}

// CallRaw is Call for callers that need response members beyond result,
// such as the long-poll cursor carried on the envelope itself.
func (c *Client) CallRaw(ctx context.Context, path string, params any) (*Raw, error) {
	return c.call(ctx, path, params, nil)
}

// Raw exposes the decoded response envelope.
type Raw struct {
	Result json.RawMessage
	Body   []byte
}

func (c *Client) call(ctx context.Context, path string, params any, out any) (*Raw, error) {
	if params == nil {
		params = map[string]any{}
	}

	req := c.http.R().
		SetContext(ctx).
		SetBody(envelope{JSONRPC: "2.0", Method: "call", Params: params})

	if token := c.Session(); token != "" {
		req.SetCookie(&http.Cookie{Name: sessionCookie, Value: token})
	}

	resp, err := req.Post(path)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Path: path, Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Path: path, Err: fmt.Errorf("http %d", status)}
	case status < 200 || status > 299:
		return nil, &Error{Kind: KindTransport, Path: path, Err: fmt.Errorf("http %d", status)}
	}

	var env response
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, &Error{Kind: KindMalformed, Path: path, Err: err}
	}

	if env.Error != nil {
		kind := KindBackend
		// Odoo reports expired or missing sessions as a backend error with
		// code 100, not as an HTTP status.
		if env.Error.Code == 100 {
			kind = KindAuth
		}
		return nil, &Error{
			Kind: kind,
			Path: path,
			Err:  fmt.Errorf("backend error %d: %s", env.Error.Code, env.Error.Message),
		}
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, &Error{Kind: KindMalformed, Path: path, Err: err}
		}
	}

	if c.logger != nil {
		c.logger.Debug("rpc call", zap.String("path", path), zap.Int("status", status))
	}

	return &Raw{Result: env.Result, Body: resp.Body()}, nil
}

// CallForCookie posts params to path and returns the decoded envelope plus
// the value of the session_id cookie set on the response, if any. Used only
// by authentication, where the token arrives out-of-band in a Set-Cookie
// header.
func (c *Client) CallForCookie(ctx context.Context, path string, params any, out any) (string, error) {
	req := c.http.R().
		SetContext(ctx).
		SetBody(envelope{JSONRPC: "2.0", Method: "call", Params: params})

	resp, err := req.Post(path)
	if err != nil {
		return "", &Error{Kind: KindTransport, Path: path, Err: err}
	}
	if status := resp.StatusCode(); status < 200 || status > 299 {
		return "", &Error{Kind: KindTransport, Path: path, Err: fmt.Errorf("http %d", status)}
	}

	var env response
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return "", &Error{Kind: KindMalformed, Path: path, Err: err}
	}
	if env.Error != nil {
		return "", &Error{
			Kind: KindAuth,
			Path: path,
			Err:  fmt.Errorf("backend error %d: %s", env.Error.Code, env.Error.Message),
		}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return "", &Error{Kind: KindMalformed, Path: path, Err: err}
		}
	}

	var token string
	for _, ck := range resp.Cookies() {
		if ck.Name == sessionCookie {
			token = ck.Value
		}
	}
	return token, nil
}
