// Package helloasso reads payments from the HelloAsso v5 API: client-credentials
// token acquisition and continuation-token pagination.
package helloasso

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultPageSize     = 100
	DefaultMaxPages     = 10000
	DefaultTokenTimeout = 10 * time.Second
	DefaultPageTimeout  = 30 * time.Second
)

// ClientConfig configures the HelloAsso client.
type ClientConfig struct {
	// APIURL is the payments listing endpoint, query parameters are added per page.
	APIURL   string
	TokenURL string

	ClientID string
	// ClientSecret is SENSITIVE: never logged.
	ClientSecret string

	// HTTPClient is optional (tests). Timeouts are applied per request via context.
	HTTPClient *http.Client

	TokenTimeout time.Duration
	PageTimeout  time.Duration

	PageSize int
	// MaxPages caps the number of page requests when upstream metadata never ends.
	MaxPages int
	// RatePerSecond limits page requests; 0 means unlimited.
	RatePerSecond float64

	// Service names the caller in log lines.
	Service string
}

type Client struct {
	httpClient   *http.Client
	apiURL       string
	tokenURL     string
	clientID     string
	clientSecret string
	tokenTimeout time.Duration
	pageTimeout  time.Duration
	pageSize     int
	maxPages     int
	limiter      *rate.Limiter
	service      string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	apiURL := strings.TrimSpace(cfg.APIURL)
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if apiURL == "" || tokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	c := &Client{
		httpClient:   cfg.HTTPClient,
		apiURL:       apiURL,
		tokenURL:     tokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenTimeout: cfg.TokenTimeout,
		pageTimeout:  cfg.PageTimeout,
		pageSize:     cfg.PageSize,
		maxPages:     cfg.MaxPages,
		service:      cfg.Service,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.tokenTimeout <= 0 {
		c.tokenTimeout = DefaultTokenTimeout
	}
	if c.pageTimeout <= 0 {
		c.pageTimeout = DefaultPageTimeout
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.maxPages <= 0 {
		c.maxPages = DefaultMaxPages
	}
	if c.service == "" {
		c.service = "helloasso"
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return c, nil
}

// PageSize is the number of records requested per page.
func (c *Client) PageSize() int {
	return c.pageSize
}
