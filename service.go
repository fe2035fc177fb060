package crust

import (
	"errors"
	"strconv"
	"time"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// RestResponse is the response when returning rest requests.
type RestResponse struct {
	Success  bool   `json:"success"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ManagerStatus struct {
	Identifier string        `json:"identifier"`
	ShardCount int32         `json:"shard_count"`
	StartedAt  time.Time     `json:"started_at"`
	Shards     []ShardStatus `json:"shards"`
}

type ShardStatus struct {
	ShardID       int32        `json:"shard_id"`
	State         SessionState `json:"state"`
	StateName     string       `json:"state_name"`
	Latency       int64        `json:"latency_ms"`
	Guilds        int          `json:"guilds"`
	PendingGuilds int          `json:"pending_guilds"`
	Sequence      int64        `json:"sequence"`
	StartedAt     time.Time    `json:"started_at"`
}

// Service exposes the state of a Manager over HTTP.
type Service struct {
	Logger zerolog.Logger

	manager *Manager
	router  *router.Router
	server  *fasthttp.Server
}

func NewService(logger zerolog.Logger, manager *Manager) *Service {
	service := &Service{
		Logger:  logger,
		manager: manager,
		router:  router.New(),
	}

	service.router.GET("/api/status", service.handleStatus)
	service.router.GET("/api/shards/{shard_id}", service.handleShard)
	service.router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	service.server = &fasthttp.Server{
		Name:    "Crust",
		Handler: service.HandleRequest,
	}

	return service
}

// HandleRequest routes a request and logs it.
func (s *Service) HandleRequest(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	s.router.Handler(ctx)

	s.Logger.Debug().
		Str("method", string(ctx.Method())).
		Str("path", string(ctx.Path())).
		Int("status", ctx.Response.StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("Handled request")
}

// ListenAndServe blocks until the server stops.
func (s *Service) ListenAndServe(host string) error {
	s.Logger.Info().Str("host", host).Msg("Starting HTTP server")

	return s.server.ListenAndServe(host)
}

func (s *Service) Shutdown() error {
	return s.server.Shutdown()
}

func (s *Service) Status() ManagerStatus {
	shards := s.manager.Shards()

	status := ManagerStatus{
		Identifier: s.manager.Configuration.Identifier,
		ShardCount: s.manager.ShardCount(),
		StartedAt:  s.manager.StartedAt.Load(),
		Shards:     make([]ShardStatus, 0, len(shards)),
	}

	for _, shard := range shards {
		status.Shards = append(status.Shards, shardStatus(shard))
	}

	return status
}

func shardStatus(shard *Shard) ShardStatus {
	state := shard.State()

	return ShardStatus{
		ShardID:       shard.ShardID,
		State:         state,
		StateName:     state.String(),
		Latency:       shard.Heartbeater().Latency.Load().Milliseconds(),
		Guilds:        shard.Guilds.Count(),
		PendingGuilds: shard.PendingGuilds(),
		Sequence:      shard.Sequence(),
		StartedAt:     shard.StartedAt.Load(),
	}
}

func (s *Service) handleStatus(ctx *fasthttp.RequestCtx) {
	writeResponse(ctx, fasthttp.StatusOK, RestResponse{Success: true, Response: s.Status()})
}

func (s *Service) handleShard(ctx *fasthttp.RequestCtx) {
	raw, _ := ctx.UserValue("shard_id").(string)

	shardID, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		writeResponse(ctx, fasthttp.StatusBadRequest, RestResponse{Error: "invalid shard id"})

		return
	}

	shard, err := s.manager.Shard(int32(shardID))
	if err != nil {
		status := fasthttp.StatusInternalServerError
		if errors.Is(err, ErrShardNotFound) {
			status = fasthttp.StatusNotFound
		}

		writeResponse(ctx, status, RestResponse{Error: err.Error()})

		return
	}

	writeResponse(ctx, fasthttp.StatusOK, RestResponse{Success: true, Response: shardStatus(shard)})
}

func writeResponse(ctx *fasthttp.RequestCtx, status int, response RestResponse) {
	body, err := crustjson.Marshal(response)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)

		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json;charset=UTF-8")
	ctx.SetBody(body)
}
