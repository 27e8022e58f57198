// Package api implements the HTTP JSON source. Requests are authenticated
// with the OAuth2 client credentials flow when a client id is configured
// and throttled to requests_per_second when it is set.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/porter/pkg/clients"
	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// Args are the args of source.api.
type Args struct {
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout" default:"30s"`

	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`

	// RecordsPath is the dotted path of the record array in a response body.
	// Empty means the body itself.
	RecordsPath string `yaml:"records_path"`
	// NextPath is the dotted path of the next page URL. Empty disables
	// paging.
	NextPath string `yaml:"next_path"`
	MaxPages int    `yaml:"max_pages" default:"100"`

	// RequestsPerSecond limits requests, token requests included. Zero
	// means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst" default:"1"`
}

// Validate checks the credentials are complete.
func (a *Args) Validate() error {
	if a.ClientID != "" && a.ClientSecret == "" {
		return fmt.Errorf("client_secret is required with client_id")
	}
	if a.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive")
	}
	if a.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	return nil
}

func init() {
	registry.MustRegister(schema.VariantOf(schema.KindSource, string(models.SourceTypeAPI)), Args{}, New,
		"Reads JSON records from HTTP endpoints")
}

// Connector reads JSON over HTTP.
type Connector struct {
	name    string
	args    *Args
	client  *http.Client
	limiter clients.RateLimiter
	logger  *zap.Logger
}

// New creates an API connector from validated args.
func New(cfg registry.Config) (core.Connector, error) {
	args, err := schema.As[Args](cfg.Args)
	if err != nil {
		return nil, err
	}
	return &Connector{
		name:   cfg.Name,
		args:   args,
		logger: logger.With(zap.String("connector", cfg.Name)),
	}, nil
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) Connect(ctx context.Context) error {
	c.limiter = clients.NewRateLimiter(c.args.RequestsPerSecond, c.args.Burst)
	c.client = &http.Client{
		Timeout:   c.args.Timeout,
		Transport: clients.NewTransport(c.name, c.limiter, nil),
	}
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	return nil
}

// httpClient returns the client for a dataset. The dataset's auth_url
// overrides token_url.
func (c *Connector) httpClient(ctx context.Context, d *models.Dataset) (*http.Client, error) {
	if c.client == nil {
		return nil, errors.New(errors.ErrorTypeConnection, fmt.Sprintf("api connector %q is not connected", c.name))
	}
	if c.args.ClientID == "" {
		return c.client, nil
	}
	tokenURL := c.args.TokenURL
	if d.AuthURL != "" {
		tokenURL = d.AuthURL
	}
	if tokenURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("dataset %q needs auth_url or a token_url for client credentials", d.Name))
	}
	cc := clientcredentials.Config{
		ClientID:     c.args.ClientID,
		ClientSecret: c.args.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       c.args.Scopes,
	}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, c.client))
	client.Timeout = c.args.Timeout
	return client, nil
}

// requestURL resolves the dataset url against base_url, fills {name}
// placeholders from binds and adds the dataset args as query parameters.
func (c *Connector) requestURL(d *models.Dataset, binds map[string]any) (string, error) {
	raw := d.URL
	for k, v := range binds {
		raw = strings.ReplaceAll(raw, "{"+k+"}", url.PathEscape(fmt.Sprint(v)))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid url "+raw)
	}
	if !u.IsAbs() && c.args.BaseURL != "" {
		base, err := url.Parse(c.args.BaseURL)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid base_url")
		}
		u = base.ResolveReference(u)
	}

	if len(d.Args) > 0 {
		q := u.Query()
		for k, v := range d.Args {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Connector) get(ctx context.Context, client *http.Client, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.args.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request to "+target+" failed")
	}
	return resp, nil
}

// Exists reports whether the dataset url answers with a success status.
func (c *Connector) Exists(ctx context.Context, d *models.Dataset) (bool, error) {
	client, err := c.httpClient(ctx, d)
	if err != nil {
		return false, err
	}
	target, err := c.requestURL(d, d.BindValues(nil))
	if err != nil {
		return false, err
	}
	resp, err := c.get(ctx, client, target)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, nil
	case resp.StatusCode >= 300:
		return false, errors.New(errors.ErrorTypeConnection,
			fmt.Sprintf("existence check of %s returned %s", target, resp.Status))
	}
	return true, nil
}

// Read fetches the dataset, following next_path links up to max_pages.
func (c *Connector) Read(ctx context.Context, req core.ReadRequest, out core.RecordWriter) error {
	d := req.Dataset
	client, err := c.httpClient(ctx, d)
	if err != nil {
		return err
	}
	target, err := c.requestURL(d, req.Binds)
	if err != nil {
		return err
	}

	for page := 0; target != "" && page < c.args.MaxPages; page++ {
		body, err := c.fetch(ctx, client, target)
		if err != nil {
			return err
		}
		records, err := extractRecords(body, c.args.RecordsPath)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "unexpected response from "+target)
		}
		for _, rec := range records {
			if err := out.Write(ctx, rec); err != nil {
				return err
			}
		}
		c.logger.Debug("page read",
			zap.String("dataset", d.Name),
			zap.Int("page", page),
			zap.Int("records", len(records)))

		target = ""
		if c.args.NextPath != "" {
			if next, ok := lookup(body, c.args.NextPath).(string); ok {
				target = next
			}
		}
	}
	return nil
}

func (c *Connector) fetch(ctx context.Context, client *http.Client, target string) (any, error) {
	resp, err := c.get(ctx, client, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.New(errors.ErrorTypeDatasetMissing, target+" returned "+resp.Status)
	}
	if resp.StatusCode >= 300 {
		errType := errors.ErrorTypeData
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			errType = errors.ErrorTypeConnection
		}
		return nil, errors.New(errType, target+" returned "+resp.Status)
	}

	var body any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response from "+target)
	}
	return body, nil
}

// lookup follows a dotted path through nested objects.
func lookup(body any, path string) any {
	if path == "" {
		return body
	}
	cur := body
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func extractRecords(body any, path string) ([]core.Record, error) {
	switch v := lookup(body, path).(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []core.Record{v}, nil
	case []any:
		out := make([]core.Record, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item %d at %q is %T, not an object", i, path, item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value at %q is %T, not an object or array", path, v)
	}
}
