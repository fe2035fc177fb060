package crust

import (
	"context"
	"fmt"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/tidwall/gjson"
)

// sessionHandler updates session bookkeeping for an event before it is
// dispatched. Returning true marks the shard Ready once dispatch completes.
type sessionHandler func(sh *Shard, conn *connection, event Event) (bool, error)

var sessionHandlers [eventKindCount]sessionHandler

func registerSessionHandler(kind EventKind, handler sessionHandler) {
	sessionHandlers[kind] = handler
}

func (sh *Shard) onDispatch(ctx context.Context, conn *connection, event Event) error {
	RecordEvent(sh.Manager.Configuration.Identifier, event.Name)

	var ready bool

	if handler := sessionHandlers[event.Kind]; handler != nil {
		var err error

		ready, err = handler(sh, conn, event)
		if err != nil {
			return fmt.Errorf("failed to handle %s: %w", event.Name, err)
		}
	}

	sh.Manager.dispatcher.Dispatch(ctx, sh, event)

	if ready {
		sh.markReady(conn)
	}

	return nil
}

// onReady records the session and the guilds we should expect a
// GUILD_CREATE for.
func onReady(sh *Shard, conn *connection, event Event) (bool, error) {
	var ready Ready

	if err := crustjson.Unmarshal(event.Data, &ready); err != nil {
		return false, fmt.Errorf("failed to unmarshal ready: %w", err)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.conn != conn {
		return false, nil
	}

	sh.sessionID = ready.SessionID
	sh.resumeGatewayURL = ready.ResumeGatewayURL
	sh.pendingResume = false

	sh.pendingGuilds = make(map[Snowflake]struct{}, len(ready.Guilds))
	for _, guild := range ready.Guilds {
		sh.pendingGuilds[guild.ID] = struct{}{}
	}

	sh.Logger.Info().
		Str("session_id", ready.SessionID).
		Int("guilds", len(ready.Guilds)).
		Msg("Received READY")

	if len(sh.pendingGuilds) == 0 {
		return true, nil
	}

	if timeout := sh.Manager.Configuration.GuildReadyTimeout; timeout > 0 {
		sh.guildReadyTimer = sh.clock.AfterFunc(timeout, func() {
			sh.abandonPendingGuilds(conn)
		})
	}

	return false, nil
}

func onResumed(sh *Shard, _ *connection, _ Event) (bool, error) {
	sh.Logger.Info().Msg("Shard has resumed")

	return true, nil
}

func onGuildCreate(sh *Shard, conn *connection, event Event) (bool, error) {
	guildID, err := peekGuildID(event.Data, "id")
	if err != nil {
		return false, err
	}

	sh.Guilds.Store(guildID, struct{}{})

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.conn != conn || len(sh.pendingGuilds) == 0 {
		return false, nil
	}

	if _, ok := sh.pendingGuilds[guildID]; !ok {
		return false, nil
	}

	delete(sh.pendingGuilds, guildID)

	return len(sh.pendingGuilds) == 0, nil
}

// onGuildDelete forgets guilds we were removed from. Outages keep the guild.
func onGuildDelete(sh *Shard, _ *connection, event Event) (bool, error) {
	if gjson.GetBytes(event.Data, "unavailable").Bool() {
		return false, nil
	}

	guildID, err := peekGuildID(event.Data, "id")
	if err != nil {
		return false, err
	}

	sh.Guilds.Delete(guildID)

	return false, nil
}

func peekGuildID(data []byte, path string) (Snowflake, error) {
	result := gjson.GetBytes(data, path)
	if !result.Exists() {
		return 0, fmt.Errorf("event is missing %s", path)
	}

	var guildID Snowflake

	if err := guildID.UnmarshalJSON([]byte(result.Raw)); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return guildID, nil
}

func init() {
	registerSessionHandler(EventKindReady, onReady)
	registerSessionHandler(EventKindResumed, onResumed)
	registerSessionHandler(EventKindGuildCreate, onGuildCreate)
	registerSessionHandler(EventKindGuildDelete, onGuildDelete)
}
