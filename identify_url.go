package crust

import (
	"bytes"
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

// IdentifyViaURL asks an external service whether a shard may identify, so
// processes sharing one token can coordinate.
//
// The URL and request body carry formatting tags:
// - {shard_id}
// - {shard_count}
// - {token}
// - {token_hash}
// - {max_concurrency}
//
// A 200 or 204 allows the identify. Anything else is retried after the
// X-Retry-After-Ms header, or StandardIdentifyLimit.
type IdentifyViaURL struct {
	URL     string
	Headers map[string]string

	Client *http.Client

	clock clock.Clock
}

func NewIdentifyViaURL(clk clock.Clock, url string, headers map[string]string) *IdentifyViaURL {
	return &IdentifyViaURL{
		URL:     url,
		Headers: headers,
		Client:  http.DefaultClient,
		clock:   clk,
	}
}

type identifyURLPayload struct {
	Token          string `json:"token"`
	TokenHash      string `json:"token_hash"`
	ShardID        int32  `json:"shard_id"`
	ShardCount     int32  `json:"shard_count"`
	MaxConcurrency int32  `json:"max_concurrency"`
}

func (i *IdentifyViaURL) Identify(ctx context.Context, shard *Shard) error {
	token := shard.Manager.Configuration.Token
	hash := tokenHash(token)
	maxConcurrency := shard.Manager.Gateway().SessionStartLimit.MaxConcurrency

	identifyURL := strings.NewReplacer(
		"{shard_id}", strconv.Itoa(int(shard.ShardID)),
		"{shard_count}", strconv.Itoa(int(shard.ShardCount)),
		"{token}", token,
		"{token_hash}", hash,
		"{max_concurrency}", strconv.Itoa(int(maxConcurrency)),
	).Replace(i.URL)

	if _, err := url.Parse(identifyURL); err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	body, err := crustjson.Marshal(identifyURLPayload{
		Token:          token,
		TokenHash:      hash,
		ShardID:        shard.ShardID,
		ShardCount:     shard.ShardCount,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal identify payload: %w", err)
	}

	for {
		retryAfter, err := i.attempt(ctx, identifyURL, body)
		if err == nil && retryAfter == 0 {
			return nil
		}

		if err != nil {
			shard.Logger.Warn().Err(err).Msg("Identify request failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.clock.After(retryAfter):
		}
	}
}

// attempt returns zero when the shard may identify.
func (i *IdentifyViaURL) attempt(ctx context.Context, identifyURL string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, identifyURL, bytes.NewReader(body))
	if err != nil {
		return StandardIdentifyLimit, fmt.Errorf("failed to create identify request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range i.Headers {
		req.Header.Set(key, value)
	}

	resp, err := i.Client.Do(req)
	if err != nil {
		return StandardIdentifyLimit, fmt.Errorf("failed to do identify request: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return 0, nil
	}

	if retryAfterMs, _ := strconv.Atoi(resp.Header.Get("X-Retry-After-Ms")); retryAfterMs > 0 {
		return time.Duration(retryAfterMs) * time.Millisecond, nil
	}

	return StandardIdentifyLimit, nil
}
