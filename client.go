package crust

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/WelcomerTeam/Crust/pkg/clock"
)

var UserAgent = fmt.Sprintf("Crust/%s (https://github.com/WelcomerTeam/Crust)", Version)

// EndpointGatewayBot is the REST endpoint describing how to connect.
var EndpointGatewayBot = "https://discord.com/api/v10/gateway/bot"

// DefaultRateLimitWait is used when a 429 carries no Retry-After header.
const DefaultRateLimitWait = time.Second

// GatewayFetcher returns the gateway connection metadata.
type GatewayFetcher interface {
	GetGatewayBot(ctx context.Context) (*GatewayBotResponse, error)
}

// Client is the small part of the REST API needed to connect.
type Client struct {
	HTTPClient *http.Client
	Token      string
	Endpoint   string

	// MaxRetries bounds how often a rate limited request is retried.
	MaxRetries int

	clock clock.Clock
}

func NewClient(httpClient *http.Client, clk clock.Clock, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		HTTPClient: httpClient,
		Token:      token,
		Endpoint:   EndpointGatewayBot,
		MaxRetries: 3,
		clock:      clk,
	}
}

func (c *Client) GetGatewayBot(ctx context.Context) (*GatewayBotResponse, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bot "+strings.TrimPrefix(c.Token, "Bot "))
		req.Header.Set("User-Agent", UserAgent)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to do request: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var gatewayBotResponse GatewayBotResponse

			err = crustjson.UnmarshalReader(resp.Body, &gatewayBotResponse)
			resp.Body.Close()

			if err != nil {
				return nil, fmt.Errorf("failed to decode gateway bot response: %w", err)
			}

			return &gatewayBotResponse, nil
		case http.StatusUnauthorized:
			resp.Body.Close()

			return nil, ErrUnauthorized
		case http.StatusTooManyRequests:
			resp.Body.Close()

			if attempt >= c.MaxRetries {
				return nil, fmt.Errorf("gateway bot request rate limited after %d attempts", attempt+1)
			}

			wait := retryAfter(resp.Header.Get("Retry-After"))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(wait):
			}
		default:
			resp.Body.Close()

			return nil, fmt.Errorf("unexpected status code %d from gateway bot", resp.StatusCode)
		}
	}
}

func retryAfter(header string) time.Duration {
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return DefaultRateLimitWait
	}

	return time.Duration(seconds * float64(time.Second))
}

// NewProxyClient creates an HTTP client that redirects all requests through a specified host.
// This is useful when using a proxy such as twilight or nirn.
func NewProxyClient(client http.Client, host url.URL) *http.Client {
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	client.Transport = &proxyTransport{
		host:      host,
		transport: client.Transport,
	}

	return &client
}

type proxyTransport struct {
	host      url.URL
	transport http.RoundTripper
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	proxyReq := req.Clone(req.Context())

	proxyReq.URL.Host = t.host.Host
	proxyReq.URL.Scheme = t.host.Scheme
	proxyReq.Host = t.host.Host

	if !strings.HasPrefix(proxyReq.URL.Path, "/api") {
		proxyReq.URL.Path = "/api/v10" + proxyReq.URL.Path
	}

	resp, err := t.transport.RoundTrip(proxyReq)
	if err != nil {
		return nil, fmt.Errorf("failed to round trip: %w", err)
	}

	return resp, nil
}
