package crust_test

import (
	"testing"

	crust "github.com/WelcomerTeam/Crust"
	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func serve(service *crust.Service, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx

	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI(path)

	service.HandleRequest(&ctx)

	return &ctx
}

type statusResponse struct {
	Success  bool                `json:"success"`
	Response crust.ManagerStatus `json:"response"`
}

type shardResponse struct {
	Success  bool              `json:"success"`
	Response crust.ShardStatus `json:"response"`
	Error    string            `json:"error"`
}

func TestServiceStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.start()

	transport := h.dialer.next(t)
	require.NoError(t, <-h.startErr)

	h.handshake(t, h.shard(t, 0), transport)

	service := crust.NewService(zerolog.Nop(), h.manager)

	ctx := serve(service, "/api/status")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var response statusResponse
	require.NoError(t, crustjson.Unmarshal(ctx.Response.Body(), &response))

	assert.True(t, response.Success)
	assert.Equal(t, crust.DefaultIdentifier, response.Response.Identifier)
	assert.Equal(t, int32(1), response.Response.ShardCount)
	require.Len(t, response.Response.Shards, 1)
	assert.Equal(t, crust.SessionStateReady, response.Response.Shards[0].State)
	assert.Equal(t, crust.SessionStateReady.String(), response.Response.Shards[0].StateName)
	assert.Equal(t, int64(1), response.Response.Shards[0].Sequence)
}

func TestServiceShard(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.start()

	h.dialer.next(t)
	require.NoError(t, <-h.startErr)

	service := crust.NewService(zerolog.Nop(), h.manager)

	ctx := serve(service, "/api/shards/0")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var response shardResponse
	require.NoError(t, crustjson.Unmarshal(ctx.Response.Body(), &response))
	assert.True(t, response.Success)
	assert.Equal(t, int32(0), response.Response.ShardID)

	ctx = serve(service, "/api/shards/9")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	response = shardResponse{}
	require.NoError(t, crustjson.Unmarshal(ctx.Response.Body(), &response))
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, crust.ErrShardNotFound.Error())

	ctx = serve(service, "/api/shards/first")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestServiceMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	service := crust.NewService(zerolog.Nop(), h.manager)

	ctx := serve(service, "/metrics")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.NotEmpty(t, ctx.Response.Body())

	ctx = serve(service, "/missing")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
