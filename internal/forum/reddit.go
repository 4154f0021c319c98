package forum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultAuthURL      = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIURL       = "https://oauth.reddit.com"
	DefaultPollInterval = 3 * time.Second
	// Reddit allows 60 OAuth requests a minute per client.
	DefaultRequestsPerSecond = 1.0
	defaultBurst             = 5
	maxResponseBytes         = 1 << 20
)

// Credentials are one identity's script-app login.
type Credentials struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != "" && c.ClientID != "" && c.ClientSecret != ""
}

type RedditOptions struct {
	Credentials       Credentials
	UserAgent         string
	AuthURL           string
	APIURL            string
	PollInterval      time.Duration
	RequestsPerSecond float64
	// HTTPClient carries requests to both endpoints. Defaults to
	// http.DefaultClient's transport.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Reddit is a Client backed by the Reddit OAuth API.
type Reddit struct {
	api     string
	http    *http.Client
	limiter *rate.Limiter
	poll    time.Duration
	log     zerolog.Logger
}

// DialReddit logs in with the password grant. The token is renewed with the
// same grant when it expires, since script apps get no refresh token.
func DialReddit(ctx context.Context, opts RedditOptions) (*Reddit, error) {
	if !opts.Credentials.Valid() {
		return nil, errors.New("reddit: incomplete credentials")
	}
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	inner := base.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}
	base = &http.Client{
		Timeout:   base.Timeout,
		Transport: userAgentTransport{agent: opts.UserAgent, next: inner},
	}

	conf := &oauth2.Config{
		ClientID:     opts.Credentials.ClientID,
		ClientSecret: opts.Credentials.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  opts.AuthURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	// The token source outlives ctx, so it gets its own context that only
	// carries the HTTP client.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	src := passwordSource{ctx: tokenCtx, conf: conf, user: opts.Credentials.Username, pass: opts.Credentials.Password}

	loginCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	tok, err := conf.PasswordCredentialsToken(loginCtx, src.user, src.pass)
	if err != nil {
		return nil, fmt.Errorf("reddit login %s: %w", opts.Credentials.Username, err)
	}
	return &Reddit{
		api:     strings.TrimRight(opts.APIURL, "/"),
		http:    oauth2.NewClient(tokenCtx, oauth2.ReuseTokenSource(tok, src)),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), defaultBurst),
		poll:    opts.PollInterval,
		log:     opts.Logger.With().Str("component", "reddit").Str("user", opts.Credentials.Username).Logger(),
	}, nil
}

var _ Client = (*Reddit)(nil)

type passwordSource struct {
	ctx        context.Context
	conf       *oauth2.Config
	user, pass string
}

func (s passwordSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.user, s.pass)
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent == "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(req)
}

func (r *Reddit) NewestThread(ctx context.Context, area string) (Thread, error) {
	body, err := r.do(ctx, http.MethodGet, "/r/"+url.PathEscape(area)+"/new?limit=1", nil)
	if err != nil {
		return Thread{}, err
	}
	post := gjson.GetBytes(body, "data.children.0.data")
	if !post.Exists() {
		return Thread{}, fmt.Errorf("reddit: no threads in r/%s", area)
	}
	return Thread{
		ID:     post.Get("name").String(),
		Author: post.Get("author").String(),
		Title:  post.Get("title").String(),
	}, nil
}

func (r *Reddit) SendMessage(ctx context.Context, to, subject, body string) error {
	_, err := r.do(ctx, http.MethodPost, "/api/compose", url.Values{
		"api_type": {"json"},
		"to":       {to},
		"subject":  {subject},
		"text":     {body},
	})
	return err
}

func (r *Reddit) Reply(ctx context.Context, thread Thread, body string) error {
	_, err := r.do(ctx, http.MethodPost, "/api/comment", url.Values{
		"api_type": {"json"},
		"thing_id": {thread.ID},
		"text":     {body},
	})
	return err
}

// Inbox polls unread mail. Messages already unread on the first poll are
// left alone. Poll failures are logged and retried on the next tick.
func (r *Reddit) Inbox(ctx context.Context, fn func(InboxMessage) error) error {
	seen, err := r.unread(ctx)
	for err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn().Err(err).Msg("initial inbox poll failed")
		if !r.wait(ctx) {
			return nil
		}
		seen, err = r.unread(ctx)
	}
	skip := make(map[string]bool, len(seen))
	for _, m := range seen {
		skip[m.ID] = true
	}

	for r.wait(ctx) {
		msgs, err := r.unread(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn().Err(err).Msg("inbox poll failed")
			continue
		}
		current := make(map[string]bool, len(msgs))
		var fresh []InboxMessage
		for _, m := range msgs {
			current[m.ID] = true
			if !skip[m.ID] {
				fresh = append(fresh, m)
			}
		}
		// Only ids still unread need remembering.
		skip = current
		for _, m := range fresh {
			if err := r.markRead(ctx, m.ID); err != nil && ctx.Err() == nil {
				r.log.Warn().Err(err).Str("id", m.ID).Msg("mark read failed")
			}
			if err := fn(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reddit) wait(ctx context.Context) bool {
	t := time.NewTimer(r.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// unread returns unread private messages oldest first.
func (r *Reddit) unread(ctx context.Context) ([]InboxMessage, error) {
	body, err := r.do(ctx, http.MethodGet, "/message/unread?limit=100", nil)
	if err != nil {
		return nil, err
	}
	children := gjson.GetBytes(body, "data.children").Array()
	out := make([]InboxMessage, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if c.Get("kind").String() != "t4" {
			continue
		}
		d := c.Get("data")
		out = append(out, InboxMessage{
			ID:      d.Get("name").String(),
			Author:  d.Get("author").String(),
			Subject: d.Get("subject").String(),
			Body:    d.Get("body").String(),
		})
	}
	return out, nil
}

func (r *Reddit) markRead(ctx context.Context, id string) error {
	_, err := r.do(ctx, http.MethodPost, "/api/read_message", url.Values{"id": {id}})
	return err
}

func (r *Reddit) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, r.api+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("reddit %s %s: %s", method, path, resp.Status)
	}
	if errs := gjson.GetBytes(data, "json.errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return nil, fmt.Errorf("reddit %s %s: %s", method, path, errs.Raw)
	}
	return data, nil
}
