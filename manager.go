package crust

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/coder/websocket"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// ManagerOptions are the collaborators of a Manager. Anything left empty
// gets a working default.
type ManagerOptions struct {
	Logger zerolog.Logger

	Clock            clock.Clock
	Client           GatewayFetcher
	Dialer           Dialer
	IdentifyProvider IdentifyProvider
	Dispatcher       EventDispatcher
	Relay            Relay
	Bus              *Bus

	// Capabilities defaults to DetectCodecCapabilities.
	Capabilities *CodecCapabilities
}

// Manager owns every shard of this process. It fetches the gateway metadata,
// starts shards one after another and turns their states into aggregate
// signals.
type Manager struct {
	Logger zerolog.Logger

	Configuration *Configuration
	Bus           *Bus

	clock            clock.Clock
	client           GatewayFetcher
	dialer           Dialer
	identifyProvider IdentifyProvider
	dispatcher       EventDispatcher
	relay            Relay
	capabilities     CodecCapabilities

	shards     *csmap.CsMap[int32, *Shard]
	shardCount *atomic.Int32

	StartedAt *atomic.Time

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	gateway    *GatewayBotResponse
	gatewayURL string
	budget     *RateBudget
	shardIDs   []int32
	allReady   bool
	allClosed  bool
}

func NewManager(configuration *Configuration, options ManagerOptions) (*Manager, error) {
	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	manager := &Manager{
		Logger: options.Logger.With().Str("manager", configuration.Identifier).Logger(),

		Configuration: configuration,
		Bus:           options.Bus,

		clock:            options.Clock,
		client:           options.Client,
		dialer:           options.Dialer,
		identifyProvider: options.IdentifyProvider,
		dispatcher:       options.Dispatcher,
		relay:            options.Relay,

		shards:     csmap.Create[int32, *Shard](),
		shardCount: atomic.NewInt32(0),

		StartedAt: &atomic.Time{},
	}

	if manager.clock == nil {
		manager.clock = clock.Real()
	}

	if manager.client == nil {
		manager.client = NewClient(nil, manager.clock, configuration.Token)
	}

	if manager.dialer == nil {
		manager.dialer = WebsocketDialer{}
	}

	if manager.identifyProvider == nil {
		manager.identifyProvider = NewIdentifyViaBuckets(manager.clock)
	}

	if manager.dispatcher == nil {
		manager.dispatcher = NewDispatchTable()
	}

	if manager.Bus == nil {
		manager.Bus = NewBus()
	}

	if manager.relay == nil {
		manager.relay = NewLocalRelay(manager.Bus, manager.DisconnectAll)
	}

	if options.Capabilities != nil {
		manager.capabilities = *options.Capabilities
	} else {
		manager.capabilities = DetectCodecCapabilities()
	}

	return manager, nil
}

// Initialize fetches the gateway metadata and the session start budget.
func (m *Manager) Initialize(ctx context.Context) error {
	gateway, err := m.client.GetGatewayBot(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gateway: %w", err)
	}

	gatewayURL := gateway.URL
	if m.Configuration.GatewayURL != "" {
		gatewayURL = m.Configuration.GatewayURL
	}

	budget := NewRateBudget(m.clock, gateway.SessionStartLimit)

	m.mu.Lock()
	m.gateway = gateway
	m.gatewayURL = gatewayURL
	m.budget = budget
	m.mu.Unlock()

	UpdateSessionStartsRemaining(m.Configuration.Identifier, gateway.SessionStartLimit.Remaining)

	m.Logger.Info().
		Str("url", gatewayURL).
		Int32("shards", gateway.Shards).
		Int32("remaining", gateway.SessionStartLimit.Remaining).
		Int32("max_concurrency", gateway.SessionStartLimit.MaxConcurrency).
		Msg("Fetched gateway")

	return nil
}

// Gateway returns the metadata from the last Initialize.
func (m *Manager) Gateway() GatewayBotResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gateway == nil {
		return GatewayBotResponse{}
	}

	return *m.gateway
}

func (m *Manager) GatewayURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.gatewayURL
}

// Budget returns the session start budget, or nil before Initialize.
func (m *Manager) Budget() *RateBudget {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.budget
}

// Start connects every shard this process owns, waiting StartDelay between
// each. ctx bounds the lifetime of the shards.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()

		return ErrManagerStarted
	}

	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	initialized := m.budget != nil
	m.mu.Unlock()

	if !initialized {
		if err := m.Initialize(ctx); err != nil {
			return err
		}
	}

	shardIDs, shardCount := m.getInitialShardCount(m.Gateway().Shards)
	if len(shardIDs) == 0 {
		return ErrManagerMissingShards
	}

	m.mu.Lock()
	m.shardIDs = shardIDs
	shardCtx := m.ctx
	m.mu.Unlock()

	m.shardCount.Store(shardCount)
	m.StartedAt.Store(m.clock.Now())

	m.Logger.Info().
		Ints32("shard_ids", shardIDs).
		Int32("shard_count", shardCount).
		Msg("Starting shards")

	for i, shardID := range shardIDs {
		if i > 0 {
			select {
			case <-shardCtx.Done():
				return shardCtx.Err()
			case <-m.clock.After(m.Configuration.StartDelay):
			}
		}

		shard := newShard(shardCtx, m, shardID, shardCount)
		m.shards.Store(shardID, shard)

		if err := shard.Connect(shardCtx, false); err != nil {
			shard.Logger.Error().Err(err).Msg("Failed to connect shard")
		}
	}

	return nil
}

// getInitialShardCount returns the shard ids this process runs and the total
// shard count.
func (m *Manager) getInitialShardCount(suggested int32) ([]int32, int32) {
	configuration := m.Configuration

	shardCount := configuration.ShardCount
	if shardCount <= 0 {
		shardCount = suggested
	}

	if shardCount <= 0 {
		shardCount = 1
	}

	var shardIDs []int32

	switch {
	case configuration.ShardID != nil:
		if *configuration.ShardID >= 0 && *configuration.ShardID < shardCount {
			shardIDs = []int32{*configuration.ShardID}
		}
	case configuration.ShardIDs != "":
		shardIDs = returnRangeInt32(configuration.ShardIDs, shardCount)
	default:
		shardIDs = make([]int32, 0, shardCount)

		for i := int32(0); i < shardCount; i++ {
			shardIDs = append(shardIDs, i)
		}
	}

	return filterNode(shardIDs, configuration.NodeCount, configuration.NodeID), shardCount
}

// Stop closes every shard and cancels their context.
func (m *Manager) Stop(ctx context.Context) error {
	err := m.DisconnectAll(ctx, websocket.StatusNormalClosure)

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	return err
}

// Shards returns every shard ordered by id.
func (m *Manager) Shards() []*Shard {
	shards := make([]*Shard, 0, m.shards.Count())

	m.shards.Range(func(_ int32, shard *Shard) bool {
		shards = append(shards, shard)

		return false
	})

	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ShardID < shards[j].ShardID
	})

	return shards
}

func (m *Manager) Shard(shardID int32) (*Shard, error) {
	shard, ok := m.shards.Load(shardID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrShardNotFound, shardID)
	}

	return shard, nil
}

// ShardCount is the total number of shards, including other processes'.
func (m *Manager) ShardCount() int32 {
	return m.shardCount.Load()
}

// CheckAllState reports whether every shard of this process is in state.
func (m *Manager) CheckAllState(state SessionState) bool {
	shards := m.Shards()
	if len(shards) == 0 {
		return false
	}

	for _, shard := range shards {
		if shard.State() != state {
			return false
		}
	}

	return true
}

// DisconnectAll closes every shard with code. Shards do not reconnect after.
func (m *Manager) DisconnectAll(ctx context.Context, code websocket.StatusCode) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, shard := range m.Shards() {
		group.Go(func() error {
			if err := shard.Close(ctx, code); err != nil {
				return fmt.Errorf("failed to close shard %d: %w", shard.ShardID, err)
			}

			return nil
		})
	}

	return group.Wait()
}

// ModifyPresence updates the presence of one shard, or every shard when
// shardID is nil.
func (m *Manager) ModifyPresence(ctx context.Context, status UpdateStatus, shardID *int32) error {
	if shardID != nil {
		shard, err := m.Shard(*shardID)
		if err != nil {
			return err
		}

		return shard.UpdatePresence(ctx, status)
	}

	group, ctx := errgroup.WithContext(ctx)

	for _, shard := range m.Shards() {
		group.Go(func() error {
			if err := shard.UpdatePresence(ctx, status); err != nil {
				return fmt.Errorf("failed to update presence of shard %d: %w", shard.ShardID, err)
			}

			return nil
		})
	}

	return group.Wait()
}

func (m *Manager) onShardStateChange(shard *Shard, state SessionState) {
	m.Bus.Emit(CrustShardStatusUpdate, ShardStatusUpdateEvent{
		Identifier: m.Configuration.Identifier,
		ShardID:    shard.ShardID,
		State:      state,
	})

	if state == SessionStateReady {
		m.Bus.Emit(CrustShardReady, ShardReadyEvent{
			Identifier: m.Configuration.Identifier,
			ShardID:    shard.ShardID,
		})
	}

	m.checkAggregateState(state)
}

// checkAggregateState raises the global events when every shard this process
// should run first reaches Ready, or first goes down. Leaving either aggregate
// is reported with state and no global event.
func (m *Manager) checkAggregateState(state SessionState) {
	m.mu.Lock()

	complete := len(m.shardIDs) > 0 && m.shards.Count() == len(m.shardIDs)
	allReady, allClosed := complete, complete

	m.shards.Range(func(_ int32, shard *Shard) bool {
		current := shard.State()
		allReady = allReady && current == SessionStateReady
		allClosed = allClosed && current.isDown()

		return false
	})

	fireReady := allReady && !m.allReady
	fireClosed := allClosed && !m.allClosed
	left := (!allReady && m.allReady) || (!allClosed && m.allClosed)

	m.allReady = allReady
	m.allClosed = allClosed
	ctx := m.ctx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if left {
		if err := m.relay.NotifyStateChange(ctx, state, ""); err != nil {
			m.Logger.Error().Err(err).Msg("Failed to relay state change")
		}
	}

	if fireReady {
		m.Logger.Info().Msg("All shards are ready")

		if err := m.relay.NotifyStateChange(ctx, SessionStateReady, CrustAllShardsReady); err != nil {
			m.Logger.Error().Err(err).Msg("Failed to relay ready state")
		}
	}

	if fireClosed {
		m.Logger.Warn().Msg("All shards are closed")

		if err := m.relay.NotifyStateChange(ctx, SessionStateClosed, CrustAllShardsClosed); err != nil {
			m.Logger.Error().Err(err).Msg("Failed to relay closed state")
		}
	}
}
