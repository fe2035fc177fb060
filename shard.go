package crust

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/WelcomerTeam/Crust/pkg/limiter"
	"github.com/coder/websocket"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

var (
	// The gateway allows 120 commands a minute. Heartbeats skip the limiter,
	// so we leave room for them.
	ShardSendLimit  = int32(110)
	ShardSendWindow = time.Minute
)

// noSequence is the sequence of a session that has not received a dispatch.
const noSequence = int64(-1)

// connection is one transport and the codec state belonging to it.
type connection struct {
	transport Transport
	codec     *Codec

	// closeCode is the code we closed the transport with, if we did.
	closeCode *atomic.Int32
}

func newConnection(transport Transport, codec *Codec) *connection {
	return &connection{
		transport: transport,
		codec:     codec,
		closeCode: atomic.NewInt32(0),
	}
}

func (c *connection) close(code websocket.StatusCode) error {
	c.closeCode.CompareAndSwap(0, int32(code))

	err := c.transport.Close(code, "")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close websocket: %w", err)
	}

	return nil
}

// Shard is a single gateway session. It keeps itself connected until it is
// closed manually or the gateway closes it with a code that cannot be
// recovered from.
type Shard struct {
	Logger zerolog.Logger

	Manager *Manager

	ShardID    int32
	ShardCount int32

	StartedAt *atomic.Time

	// Guilds the shard has received GUILD_CREATE for.
	Guilds *csmap.CsMap[Snowflake, struct{}]

	ctx context.Context

	clock       clock.Clock
	heartbeater *Heartbeater
	wsRatelimit *limiter.DurationLimiter

	state *atomic.Int32

	mu sync.Mutex

	conn *connection

	sessionID        string
	resumeGatewayURL string
	sequence         int64
	lastSequence     int64
	pendingResume    bool
	pendingGuilds    map[Snowflake]struct{}

	retryTimeout time.Duration

	// generation is bumped whenever a pending reconnect should be abandoned.
	generation    uint64
	attemptCancel context.CancelFunc

	invalidSessionTimer *clock.Timer
	guildReadyTimer     *clock.Timer
}

func newShard(ctx context.Context, manager *Manager, shardID, shardCount int32) *Shard {
	sh := &Shard{
		Logger: manager.Logger.With().Int32("shard_id", shardID).Logger(),

		Manager: manager,

		ShardID:    shardID,
		ShardCount: shardCount,

		StartedAt: &atomic.Time{},
		Guilds:    csmap.Create[Snowflake, struct{}](),

		ctx: ctx,

		clock:       manager.clock,
		wsRatelimit: limiter.NewDurationLimiter(manager.clock, ShardSendLimit, ShardSendWindow),

		state: atomic.NewInt32(int32(SessionStateIdle)),

		sequence:     noSequence,
		lastSequence: noSequence,
	}

	sh.heartbeater = NewHeartbeater(sh.clock, sh.Logger, sh.sendHeartbeat, sh.onHeartbeatMiss)

	return sh
}

// State returns the current session state without locking.
func (sh *Shard) State() SessionState {
	return SessionState(sh.state.Load())
}

func (sh *Shard) SessionID() string {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.sessionID
}

// Sequence returns the sequence of the last dispatch on the current session,
// or -1.
func (sh *Shard) Sequence() int64 {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.sequence
}

// LastSequence returns the sequence recorded when the last transport closed.
func (sh *Shard) LastSequence() int64 {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.lastSequence
}

// RetryTimeout is the delay the next reconnect will wait for.
func (sh *Shard) RetryTimeout() time.Duration {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.retryTimeout
}

func (sh *Shard) PendingGuilds() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return len(sh.pendingGuilds)
}

func (sh *Shard) Heartbeater() *Heartbeater {
	return sh.heartbeater
}

// Connect opens a new transport. When resume is set and the shard holds a
// session, the session is resumed instead of identifying again. Calling
// Connect while a connection attempt is in progress does nothing.
func (sh *Shard) Connect(ctx context.Context, resume bool) error {
	return sh.connect(ctx, resume, 0)
}

// connect is Connect for a given generation. Zero is a caller outside the
// reconnect loop, which supersedes anything pending.
func (sh *Shard) connect(ctx context.Context, resume bool, generation uint64) error {
	sh.mu.Lock()

	if generation == 0 {
		if sh.State() == SessionStateConnecting {
			sh.mu.Unlock()

			return nil
		}

		sh.generation++
		sh.cancelAttemptLocked()
	} else if generation != sh.generation {
		sh.mu.Unlock()

		return nil
	}

	generation = sh.generation

	if !resume || sh.sessionID == "" || sh.lastSequence == noSequence {
		sh.discardSessionLocked()
	}

	resuming := sh.sessionID != ""
	sh.pendingResume = resuming

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sh.attemptCancel = cancel

	stale := sh.conn
	sh.conn = nil

	sh.heartbeater.Stop()
	sh.stopTimersLocked()

	changed := sh.setStateLocked(SessionStateConnecting)
	sh.mu.Unlock()

	if stale != nil {
		if err := stale.close(CloseUnknownError); err != nil {
			sh.Logger.Warn().Err(err).Msg("Failed to close previous connection")
		}
	}

	if changed {
		sh.notifyState(SessionStateConnecting)
	}

	sh.Logger.Debug().Bool("resume", resuming).Msg("Shard is connecting")

	budget := sh.Manager.Budget()

	err := budget.Acquire(attemptCtx)

	UpdateSessionStartsRemaining(sh.Manager.Configuration.Identifier, budget.Remaining())

	if err != nil {
		sh.abandonAttempt(generation)

		return fmt.Errorf("failed to acquire session start: %w", err)
	}

	codec := NewCodec(sh.Manager.capabilities, sh.Manager.Configuration.Codec)

	gatewayURL, err := sh.gatewayURL(resuming, codec)
	if err != nil {
		sh.abandonAttempt(generation)

		return err
	}

	sh.Logger.Debug().Str("url", gatewayURL).Msg("Dialing websocket")

	transport, err := sh.Manager.dialer.Dial(attemptCtx, gatewayURL)
	if err != nil {
		sh.Logger.Error().Err(err).Msg("Failed to dial websocket")

		sh.mu.Lock()
		if generation != sh.generation {
			sh.mu.Unlock()

			return fmt.Errorf("failed to dial websocket: %w", err)
		}

		sh.attemptCancel = nil
		sh.closedLocked(CloseAbnormal)

		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	conn := newConnection(transport, codec)

	sh.mu.Lock()
	if generation != sh.generation {
		sh.mu.Unlock()

		_ = conn.close(CloseManual)

		return ErrShardTerminated
	}

	sh.conn = conn
	sh.attemptCancel = nil
	sh.StartedAt.Store(sh.clock.Now())

	var resumePayload Resume

	if resuming {
		resumePayload = Resume{
			Token:     sh.Manager.Configuration.Token,
			SessionID: sh.sessionID,
			Sequence:  sh.lastSequence,
		}

		changed = sh.setStateLocked(SessionStateHandshaking)
	}
	sh.mu.Unlock()

	go sh.listen(conn)

	if !resuming {
		return nil
	}

	if changed {
		sh.notifyState(SessionStateHandshaking)
	}

	sh.Logger.Debug().Int64("sequence", resumePayload.Sequence).Msg("Shard is resuming")

	if err := sh.sendOn(sh.ctx, conn, GatewayOpResume, resumePayload); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}

	return nil
}

// abandonAttempt marks a connection attempt that never produced a transport.
func (sh *Shard) abandonAttempt(generation uint64) {
	sh.mu.Lock()
	if generation != sh.generation || sh.State() != SessionStateConnecting {
		sh.mu.Unlock()

		return
	}

	sh.attemptCancel = nil
	changed := sh.setStateLocked(SessionStateClosed)
	sh.mu.Unlock()

	if changed {
		sh.notifyState(SessionStateClosed)
	}
}

func (sh *Shard) gatewayURL(resuming bool, codec *Codec) (string, error) {
	base := sh.Manager.GatewayURL()

	if resuming {
		sh.mu.Lock()
		if sh.resumeGatewayURL != "" {
			base = sh.resumeGatewayURL
		}
		sh.mu.Unlock()
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse gateway url: %w", err)
	}

	parsed.RawQuery = codec.QueryValues().Encode()

	return parsed.String(), nil
}

func (sh *Shard) listen(conn *connection) {
	for {
		messageType, data, err := conn.transport.Read(sh.ctx)
		if err != nil {
			code := websocket.StatusCode(conn.closeCode.Load())
			if code == 0 {
				code = closeCodeFromError(err)
			}

			sh.Logger.Debug().Err(err).Int("code", int(code)).Msg("Shard transport closed")

			sh.onTransportClosed(conn, code)

			return
		}

		payload, err := conn.codec.Decode(messageType, data)
		if err != nil {
			sh.Logger.Warn().Err(err).Msg("Dropping undecodable frame")
			RecordDecodeFailure(sh.Manager.Configuration.Identifier)

			continue
		}

		if payload == nil {
			continue
		}

		if err := sh.onPayload(conn, payload); err != nil {
			sh.Logger.Error().Err(err).Int("op", int(payload.Op)).Msg("Failed to handle gateway event")
		}
	}
}

func (sh *Shard) onPayload(conn *connection, payload *GatewayPayload) error {
	if handler, ok := gatewayHandlers[payload.Op]; ok {
		return handler(sh.ctx, sh, conn, payload)
	}

	sh.Logger.Debug().Int("op", int(payload.Op)).Msg("Ignoring unknown gateway op")

	return nil
}

func (sh *Shard) onTransportClosed(conn *connection, code websocket.StatusCode) {
	sh.mu.Lock()
	if sh.conn != conn {
		sh.mu.Unlock()

		return
	}

	sh.conn = nil
	sh.closedLocked(code)
}

// closedLocked moves the shard to Closed and schedules a reconnect when code
// allows one. It must be called with mu held and releases it.
func (sh *Shard) closedLocked(code websocket.StatusCode) {
	sh.heartbeater.Stop()
	sh.stopTimersLocked()

	if sh.State() == SessionStateTerminated {
		sh.mu.Unlock()

		return
	}

	if sh.sequence != noSequence {
		sh.lastSequence = sh.sequence
	}

	changed := sh.setStateLocked(SessionStateClosed)

	if !IsCloseCodeReconnectable(code) || sh.ctx.Err() != nil {
		sh.mu.Unlock()

		if changed {
			sh.notifyState(SessionStateClosed)
		}

		sh.Logger.Error().Int("code", int(code)).Msg("Shard closed and will not reconnect")

		return
	}

	resume := IsCloseCodeResumable(code)
	if !resume {
		sh.discardSessionLocked()
	}

	sh.retryTimeout += sh.Manager.Configuration.ReconnectStep
	if sh.retryTimeout > sh.Manager.Configuration.MaxReconnectWait {
		sh.retryTimeout = sh.Manager.Configuration.MaxReconnectWait
	}

	delay := sh.retryTimeout

	sh.generation++
	generation := sh.generation

	ctx, cancel := context.WithCancel(sh.ctx)
	sh.attemptCancel = cancel
	sh.mu.Unlock()

	if changed {
		sh.notifyState(SessionStateClosed)
	}

	RecordReconnect(sh.Manager.Configuration.Identifier, sh.ShardID, int(code))

	sh.Logger.Info().
		Int("code", int(code)).
		Bool("resume", resume).
		Dur("delay", delay).
		Msg("Shard closed, reconnecting")

	go sh.reconnect(ctx, cancel, generation, delay, resume)
}

func (sh *Shard) reconnect(ctx context.Context, cancel context.CancelFunc, generation uint64, delay time.Duration, resume bool) {
	defer cancel()

	select {
	case <-ctx.Done():
		return
	case <-sh.clock.After(delay):
	}

	if err := sh.connect(ctx, resume, generation); err != nil {
		sh.Logger.Error().Err(err).Msg("Failed to reconnect")
	}
}

// Close terminates the session. The shard will not reconnect on its own
// after this, and any pending reconnect is abandoned.
func (sh *Shard) Close(_ context.Context, code websocket.StatusCode) error {
	sh.Logger.Debug().Int("code", int(code)).Msg("Shard is closing")

	sh.mu.Lock()
	sh.generation++
	sh.cancelAttemptLocked()
	sh.heartbeater.Stop()
	sh.stopTimersLocked()

	if sh.sequence != noSequence {
		sh.lastSequence = sh.sequence
	}

	conn := sh.conn
	sh.conn = nil

	changed := sh.setStateLocked(SessionStateTerminated)
	sh.mu.Unlock()

	if changed {
		sh.notifyState(SessionStateTerminated)
	}

	if conn == nil {
		return nil
	}

	return conn.close(code)
}

// requestClose closes conn if it is still current. The read goroutine then
// picks up the close and runs the reconnect logic.
func (sh *Shard) requestClose(conn *connection, code websocket.StatusCode) {
	if conn == nil {
		return
	}

	if err := conn.close(code); err != nil {
		sh.Logger.Warn().Err(err).Msg("Failed to close websocket")
	}
}

func (sh *Shard) currentConnection() *connection {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return sh.conn
}

// Send writes a gateway command on the current connection. Everything but
// heartbeats waits on the shard's send limiter first.
func (sh *Shard) Send(ctx context.Context, op GatewayOp, data any) error {
	conn := sh.currentConnection()
	if conn == nil {
		return ErrShardNotConnected
	}

	return sh.sendOn(ctx, conn, op, data)
}

func (sh *Shard) sendOn(ctx context.Context, conn *connection, op GatewayOp, data any) error {
	if op != GatewayOpHeartbeat {
		if err := sh.wsRatelimit.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for send limiter: %w", err)
		}
	}

	messageType, payload, err := conn.codec.Encode(op, data)
	if err != nil {
		return err
	}

	if err := conn.transport.Write(ctx, messageType, payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}

	return nil
}

func (sh *Shard) heartbeatSequence() int64 {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.sequence != noSequence {
		return sh.sequence
	}

	return sh.lastSequence
}

func (sh *Shard) sendHeartbeat(ctx context.Context) error {
	return sh.Send(ctx, GatewayOpHeartbeat, sh.heartbeatSequence())
}

func (sh *Shard) onHeartbeatMiss() {
	sh.requestClose(sh.currentConnection(), CloseUnknownError)
}

// identify waits for the identify provider and starts a new session on conn.
func (sh *Shard) identify(ctx context.Context, conn *connection) error {
	sh.Logger.Debug().Int32("shard_count", sh.ShardCount).Msg("Shard is waiting for identify")

	if err := sh.Manager.identifyProvider.Identify(ctx, sh); err != nil {
		return fmt.Errorf("failed to wait for identify: %w", err)
	}

	sh.mu.Lock()
	if sh.conn != conn {
		sh.mu.Unlock()

		return ErrShardNotConnected
	}

	changed := sh.setStateLocked(SessionStateHandshaking)
	sh.mu.Unlock()

	if changed {
		sh.notifyState(SessionStateHandshaking)
	}

	configuration := sh.Manager.Configuration
	presence := sh.presence(configuration.DefaultPresence)

	sh.Logger.Debug().Msg("Shard is identifying")

	return sh.sendOn(ctx, conn, GatewayOpIdentify, Identify{
		Properties: &IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "Crust " + Version,
			Device:  "Crust " + Version,
		},
		Presence:       &presence,
		Token:          configuration.Token,
		Shard:          [2]int32{sh.ShardID, sh.ShardCount},
		LargeThreshold: configuration.LargeThreshold,
		Intents:        configuration.Intents,
		Compress:       false,
	})
}

// reidentify throws away the session and identifies again on conn.
func (sh *Shard) reidentify(conn *connection) {
	sh.mu.Lock()
	if sh.conn != conn {
		sh.mu.Unlock()

		return
	}

	sh.invalidSessionTimer = nil
	sh.discardSessionLocked()
	sh.mu.Unlock()

	if err := sh.identify(sh.ctx, conn); err != nil {
		sh.Logger.Error().Err(err).Msg("Failed to identify after invalid session")
	}
}

// UpdatePresence sends a presence update. {shard_id} in activity names and
// states is replaced with the shard's id.
func (sh *Shard) UpdatePresence(ctx context.Context, status UpdateStatus) error {
	return sh.Send(ctx, GatewayOpStatusUpdate, sh.presence(status))
}

func (sh *Shard) presence(status UpdateStatus) UpdateStatus {
	shardID := strconv.Itoa(int(sh.ShardID))

	activities := make([]*Activity, 0, len(status.Activities))

	for _, activity := range status.Activities {
		if activity == nil {
			continue
		}

		replaced := *activity
		replaced.Name = strings.ReplaceAll(replaced.Name, "{shard_id}", shardID)
		replaced.State = strings.ReplaceAll(replaced.State, "{shard_id}", shardID)

		activities = append(activities, &replaced)
	}

	status.Activities = activities

	return status
}

// markReady moves a handshaking shard to Ready.
func (sh *Shard) markReady(conn *connection) {
	sh.mu.Lock()
	if sh.conn != conn || sh.State() != SessionStateHandshaking {
		sh.mu.Unlock()

		return
	}

	sh.retryTimeout = 0
	sh.pendingResume = false
	sh.pendingGuilds = nil

	if sh.guildReadyTimer != nil {
		sh.guildReadyTimer.Stop()
		sh.guildReadyTimer = nil
	}

	changed := sh.setStateLocked(SessionStateReady)
	sh.mu.Unlock()

	if changed {
		sh.notifyState(SessionStateReady)
	}
}

// abandonPendingGuilds stops waiting for guilds that never arrived.
func (sh *Shard) abandonPendingGuilds(conn *connection) {
	sh.mu.Lock()
	pending := len(sh.pendingGuilds)
	sh.guildReadyTimer = nil
	sh.mu.Unlock()

	sh.Logger.Warn().Int("pending", pending).Msg("Timed out waiting for guilds")

	sh.markReady(conn)
}

func (sh *Shard) discardSessionLocked() {
	sh.sessionID = ""
	sh.resumeGatewayURL = ""
	sh.sequence = noSequence
	sh.lastSequence = noSequence
	sh.pendingResume = false
}

func (sh *Shard) cancelAttemptLocked() {
	if sh.attemptCancel != nil {
		sh.attemptCancel()
		sh.attemptCancel = nil
	}
}

func (sh *Shard) stopTimersLocked() {
	if sh.invalidSessionTimer != nil {
		sh.invalidSessionTimer.Stop()
		sh.invalidSessionTimer = nil
	}

	if sh.guildReadyTimer != nil {
		sh.guildReadyTimer.Stop()
		sh.guildReadyTimer = nil
	}

	sh.pendingGuilds = nil
}

func (sh *Shard) setStateLocked(state SessionState) bool {
	return SessionState(sh.state.Swap(int32(state))) != state
}

func (sh *Shard) notifyState(state SessionState) {
	sh.Logger.Info().Str("state", state.String()).Msg("Shard state updated")

	UpdateShardStatus(sh.Manager.Configuration.Identifier, sh.ShardID, state)

	sh.Manager.onShardStateChange(sh, state)
}
