package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const DefaultCallbackPrefix = "__scan_cb_"

// Options configures a Client
type Options struct {
	Endpoint       string
	APIKey         string
	Timeout        time.Duration
	FieldOrder     []string
	CallbackPrefix string
}

// Result is a resolved query. Found is false when the endpoint had no record.
type Result struct {
	Query  string  `json:"query"`
	Found  bool    `json:"found"`
	Fields []Field `json:"fields,omitempty"`
}

// Client resolves codes against the remote endpoint. Each call registers a
// one-shot callback under a fresh token; the endpoint answers with a script
// invoking that callback. The client does not queue: callers keep at most one
// call outstanding.
type Client struct {
	opts      Options
	transport Transport
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	callbacks map[string]func(payload []byte)
}

// NewClient creates a lookup client
func NewClient(opts Options, transport Transport, logger *zap.Logger) *Client {
	if opts.CallbackPrefix == "" {
		opts.CallbackPrefix = DefaultCallbackPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		opts:      opts,
		transport: transport,
		logger:    logger,
		now:       time.Now,
		callbacks: make(map[string]func([]byte)),
	}
}

// Lookup resolves one query. Exactly one of callback, transport error or
// timeout settles the call; whatever arrives afterwards is ignored.
func (c *Client) Lookup(ctx context.Context, query string) (Result, error) {
	query = strings.ToUpper(strings.TrimSpace(query))
	if query == "" {
		return Result{}, ErrEmptyQuery
	}
	if c.opts.Endpoint == "" {
		return Result{Query: query}, &Error{Kind: KindTransport, Message: "lookup endpoint not configured"}
	}

	token := c.newToken()
	reqURL, err := c.requestURL(query, token)
	if err != nil {
		return Result{Query: query}, &Error{Kind: KindTransport, Message: "invalid endpoint", Err: err}
	}

	payloads := make(chan []byte, 1)
	failures := make(chan error, 1)
	c.register(token, func(p []byte) {
		payloads <- p
	})

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	var once sync.Once
	settle := func() {
		once.Do(func() {
			c.deregister(token)
			cancel()
		})
	}
	defer settle()

	go func() {
		body, err := c.transport.Get(ctx, reqURL)
		if err != nil {
			failures <- err
			return
		}
		if _, err := c.HandleScript(body); err != nil {
			failures <- err
		}
	}()

	logger := c.logger.With(zap.String("query", query), zap.String("token", token))
	logger.Debug("Lookup dispatched")

	select {
	case p := <-payloads:
		settle()
		return c.interpret(query, p)

	case err := <-failures:
		settle()
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Lookup timed out", zap.Duration("timeout", c.opts.Timeout))
			return Result{Query: query}, &Error{Kind: KindTimeout, Message: "lookup timed out", Err: err}
		}
		logger.Warn("Lookup transport failed", zap.Error(err))
		return Result{Query: query}, &Error{Kind: KindTransport, Message: "lookup request failed", Err: err}

	case <-ctx.Done():
		err := ctx.Err()
		settle()
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Lookup timed out", zap.Duration("timeout", c.opts.Timeout))
			return Result{Query: query}, &Error{Kind: KindTimeout, Message: "lookup timed out", Err: err}
		}
		return Result{Query: query}, &Error{Kind: KindTransport, Message: "lookup cancelled", Err: err}
	}
}

var scriptPattern = regexp.MustCompile(`(?s)^\s*(?:/\*\*/\s*)?(?:typeof\s+[\w$]+\s*===?\s*['"]function['"]\s*&&\s*)?([A-Za-z_$][\w$]*)\s*\((.*)\)\s*;?\s*$`)

// HandleScript runs a callback script: it finds the named callback and hands
// it the JSON argument. It reports false when no live callback has that name,
// which is the case for any script arriving after its call settled.
func (c *Client) HandleScript(body []byte) (bool, error) {
	m := scriptPattern.FindSubmatch(body)
	if m == nil {
		return false, errors.New("malformed callback script")
	}

	name, arg := string(m[1]), m[2]
	if !gjson.ValidBytes(arg) {
		return false, fmt.Errorf("callback %s: invalid payload", name)
	}
	return c.deliver(name, arg), nil
}

func (c *Client) deliver(token string, payload []byte) bool {
	c.mu.Lock()
	fn, ok := c.callbacks[token]
	if ok {
		delete(c.callbacks, token)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Ignoring callback for settled or unknown token", zap.String("token", token))
		return false
	}
	fn(payload)
	return true
}

func (c *Client) register(token string, fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[token] = fn
}

func (c *Client) deregister(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, token)
}

// Pending returns the number of registered callbacks
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

func (c *Client) newToken() string {
	return c.opts.CallbackPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Client) requestURL(query, token string) (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("action", "search")
	q.Set("query", query)
	q.Set("callback", token)
	q.Set("_ts", strconv.FormatInt(c.now().UnixMilli(), 10))
	if c.opts.APIKey != "" {
		q.Set("key", c.opts.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) interpret(query string, payload []byte) (Result, error) {
	r := gjson.ParseBytes(payload)

	if !r.Get("ok").Bool() {
		msg := r.Get("error").String()
		if msg == "" {
			msg = "API Error"
		}
		return Result{Query: query}, &Error{Kind: KindAPI, Message: msg}
	}

	fragment := r.Get("html").String()
	if strings.TrimSpace(fragment) == "" {
		return Result{Query: query, Found: false}, nil
	}

	return Result{
		Query:  query,
		Found:  true,
		Fields: Order(ParseFields(fragment), c.opts.FieldOrder),
	}, nil
}
