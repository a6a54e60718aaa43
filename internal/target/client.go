package target

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/hearthline/migrator/internal/errors"
	"github.com/hearthline/migrator/internal/httpclient"
	"github.com/hearthline/migrator/internal/logger"
)

// ErrUnauthorized is returned when the backend rejects the access token.
var ErrUnauthorized = errors.NewStd("target rejected credentials")

const viewerQuery = "users:viewer"

// Client is the remote procedure surface of the target backend.
type Client interface {
	// Authenticate installs token and returns the identity behind it.
	Authenticate(ctx context.Context, token string) (Viewer, error)
	// Query runs a read-only function and decodes its value into out.
	Query(ctx context.Context, name string, args, out any) error
	// Mutation runs a write function and decodes its value into out.
	Mutation(ctx context.Context, name string, args, out any) error
	Close()
}

// ClientConfig configures an RPCClient.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	Logger   logger.Logger

	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper
}

// RPCClient calls backend functions over HTTP JSON with bearer authentication.
type RPCClient struct {
	endpoint string
	http     *httpclient.Client
	tokens   *tokenHolder
	logger   logger.Logger
}

type rpcRequest struct {
	Path   string `json:"path"`
	Args   any    `json:"args"`
	Format string `json:"format"`
}

type rpcResponse struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"errorMessage"`
}

// RPCError is a function-level failure reported by the backend.
type RPCError struct {
	Path    string
	Message string
}

func (e *RPCError) Error() string {
	return e.Path + ": " + e.Message
}

// NewRPCClient returns a client for endpoint. No request is made until
// Authenticate, Query or Mutation is called.
func NewRPCClient(cfg ClientConfig) (*RPCClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.Newf("target endpoint is required").
			Component("target").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}

	tokens := &tokenHolder{}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.DefaultTimeout = cfg.Timeout
	httpCfg.Transport = cfg.Transport
	httpCfg.WrapTransport = func(base http.RoundTripper) http.RoundTripper {
		return &oauth2.Transport{Source: tokens, Base: base}
	}

	return &RPCClient{
		endpoint: endpoint,
		http:     httpclient.New(&httpCfg),
		tokens:   tokens,
		logger:   cfg.Logger.Module("rpc"),
	}, nil
}

// Authenticate implements Client.
func (c *RPCClient) Authenticate(ctx context.Context, token string) (Viewer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Viewer{}, errors.Newf("%w: empty access token", ErrUnauthorized).
			Component("target").
			Category(errors.CategoryAuthentication).
			Build()
	}
	c.tokens.set(token)

	var viewer *Viewer
	if err := c.Query(ctx, viewerQuery, map[string]any{}, &viewer); err != nil {
		return Viewer{}, err
	}
	if viewer == nil || viewer.ID == "" {
		return Viewer{}, errors.Newf("%w: token has no viewer", ErrUnauthorized).
			Component("target").
			Category(errors.CategoryAuthentication).
			Build()
	}

	c.logger.Info("authenticated to target", logger.String("viewer_id", viewer.ID))
	return *viewer, nil
}

// Query implements Client.
func (c *RPCClient) Query(ctx context.Context, name string, args, out any) error {
	return c.call(ctx, "query", name, args, out)
}

// Mutation implements Client.
func (c *RPCClient) Mutation(ctx context.Context, name string, args, out any) error {
	return c.call(ctx, "mutation", name, args, out)
}

// Close releases idle connections.
func (c *RPCClient) Close() {
	c.http.Close()
}

func (c *RPCClient) call(ctx context.Context, kind, name string, args, out any) error {
	if args == nil {
		args = map[string]any{}
	}
	url := c.endpoint + "/api/" + kind
	start := time.Now()

	resp, err := c.http.PostJSON(ctx, url, rpcRequest{Path: name, Args: args, Format: "json"})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return c.authError(name, err)
		}
		return errors.Newf("%s %s: %w", kind, name, err).
			Component("target").
			Category(errors.CategoryNetwork).
			Context("function", name).
			Timing(kind, time.Since(start)).
			Build()
	}

	var envelope rpcResponse
	if err := httpclient.DecodeJSON(resp, &envelope); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) &&
			(statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden) {
			return c.authError(name, err)
		}
		return errors.Newf("%s %s: %w", kind, name, err).
			Component("target").
			Category(errors.CategoryHTTP).
			Context("function", name).
			Timing(kind, time.Since(start)).
			Build()
	}

	c.logger.Trace("rpc call completed",
		logger.String("kind", kind),
		logger.String("function", name),
		logger.String("status", envelope.Status),
		logger.Duration("elapsed", time.Since(start)))

	if envelope.Status != "success" {
		msg := envelope.ErrorMessage
		if msg == "" {
			msg = "unknown error (status " + envelope.Status + ")"
		}
		category := errors.CategoryWrite
		if kind == "query" {
			category = errors.CategoryHTTP
		}
		if isAuthMessage(msg) {
			return c.authError(name, &RPCError{Path: name, Message: msg})
		}
		return errors.New(&RPCError{Path: name, Message: msg}).
			Component("target").
			Category(category).
			Context("function", name).
			Build()
	}

	if out == nil || len(envelope.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Value, out); err != nil {
		return errors.Newf("decode %s value: %w", name, err).
			Component("target").
			Category(errors.CategoryHTTP).
			Context("function", name).
			Build()
	}
	return nil
}

func (c *RPCClient) authError(name string, err error) error {
	return errors.Newf("%w: %w", ErrUnauthorized, err).
		Component("target").
		Category(errors.CategoryAuthentication).
		Context("function", name).
		Build()
}

func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "not authenticated")
}

// tokenHolder is an oauth2.TokenSource whose token is installed by Authenticate.
type tokenHolder struct {
	mu    sync.RWMutex
	token string
}

func (h *tokenHolder) set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

// Token implements oauth2.TokenSource.
func (h *tokenHolder) Token() (*oauth2.Token, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return nil, errors.Newf("%w: not authenticated", ErrUnauthorized).
			Component("target").
			Category(errors.CategoryAuthentication).
			Build()
	}
	return &oauth2.Token{AccessToken: h.token, TokenType: "Bearer"}, nil
}
