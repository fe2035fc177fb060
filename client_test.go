package crust_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewayBotBody = `{
	"url": "wss://gateway.discord.gg",
	"shards": 9,
	"session_start_limit": {"total": 1000, "remaining": 999, "reset_after": 14400000, "max_concurrency": 16}
}`

func TestClientGetGatewayBot(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot token", r.Header.Get("Authorization"))
		assert.Equal(t, crust.UserAgent, r.Header.Get("User-Agent"))

		_, _ = w.Write([]byte(gatewayBotBody))
	}))
	defer server.Close()

	client := crust.NewClient(server.Client(), clock.Real(), "token")
	client.Endpoint = server.URL

	gateway, err := client.GetGatewayBot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "wss://gateway.discord.gg", gateway.URL)
	assert.Equal(t, int32(9), gateway.Shards)
	assert.Equal(t, int32(999), gateway.SessionStartLimit.Remaining)
	assert.Equal(t, int32(16), gateway.SessionStartLimit.MaxConcurrency)
}

func TestClientRetriesRateLimits(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		_, _ = w.Write([]byte(gatewayBotBody))
	}))
	defer server.Close()

	client := crust.NewClient(server.Client(), clock.Real(), "Bot token")
	client.Endpoint = server.URL

	gateway, err := client.GetGatewayBot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(9), gateway.Shards)
	assert.Equal(t, int32(2), requests.Load())
}

func TestClientGivesUpOnRateLimits(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)

		w.Header().Set("Retry-After", "0.001")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := crust.NewClient(server.Client(), clock.Real(), "token")
	client.Endpoint = server.URL
	client.MaxRetries = 2

	_, err := client.GetGatewayBot(context.Background())
	require.Error(t, err)

	assert.Equal(t, int32(3), requests.Load())
}

func TestClientUnauthorized(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := crust.NewClient(server.Client(), clock.Real(), "token")
	client.Endpoint = server.URL

	_, err := client.GetGatewayBot(context.Background())
	require.ErrorIs(t, err, crust.ErrUnauthorized)
}

func TestProxyClient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v10/gateway/bot", r.URL.Path)

		_, _ = w.Write([]byte(gatewayBotBody))
	}))
	defer server.Close()

	proxyURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	client := crust.NewClient(crust.NewProxyClient(*server.Client(), *proxyURL), clock.Real(), "token")

	gateway, err := client.GetGatewayBot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.discord.gg", gateway.URL)

	// Paths outside the api prefix are given one.
	client.Endpoint = "https://discord.com/gateway/bot"

	_, err = client.GetGatewayBot(context.Background())
	require.NoError(t, err)
}
