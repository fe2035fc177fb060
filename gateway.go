package crust

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/WelcomerTeam/Crust/crustjson"
	"github.com/coder/websocket"
	gotils_strconv "github.com/savsgio/gotils/strconv"
)

// GatewayVersion is the gateway protocol version requested when dialing.
const GatewayVersion = 10

// GatewayOp represents the operation codes of a gateway message.
type GatewayOp uint8

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpStatusUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
)

// GatewayIntent represents a bitflag for intents.
type GatewayIntent uint32

const (
	IntentGuilds GatewayIntent = 1 << iota
	IntentGuildMembers
	IntentGuildModeration
	IntentGuildEmojis
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// Gateway close codes.
const (
	CloseUnknownError websocket.StatusCode = 4000 + iota
	CloseUnknownOpCode
	CloseDecodeError
	CloseNotAuthenticated
	CloseAuthenticationFailed
	CloseAlreadyAuthenticated
	_
	CloseInvalidSeq
	CloseRateLimited
	CloseSessionTimeout
	CloseInvalidShard
	CloseShardingRequired
	CloseInvalidAPIVersion
	CloseInvalidIntents
	CloseDisallowedIntents
)

// CloseManual is used when the application closes a shard itself. The
// gateway never sends it, so seeing it on a close means we asked for it.
const CloseManual websocket.StatusCode = 4999

// CloseAbnormal is reported when the transport goes away without a close frame.
const CloseAbnormal = websocket.StatusAbnormalClosure

// IsCloseCodeReconnectable reports whether a shard may open a new connection
// after being closed with code.
func IsCloseCodeReconnectable(code websocket.StatusCode) bool {
	switch code {
	case CloseManual,
		CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return false
	default:
		return true
	}
}

// IsCloseCodeResumable reports whether the session survives a close with code.
func IsCloseCodeResumable(code websocket.StatusCode) bool {
	switch code {
	case websocket.StatusNormalClosure, CloseInvalidSeq:
		return false
	default:
		return IsCloseCodeReconnectable(code)
	}
}

// Snowflake is a platform id. It is sent as a string and accepted as either
// a string or a number.
type Snowflake int64

var null = []byte("null")

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, null) {
		*s = 0

		return nil
	}

	if b[0] == '"' && len(b) >= 2 {
		b = b[1 : len(b)-1]
	}

	i, err := strconv.ParseInt(gotils_strconv.B2S(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to unmarshal snowflake: %w", err)
	}

	*s = Snowflake(i)

	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(s), 10) + `"`), nil
}

func (s Snowflake) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// ShardForGuild returns the shard responsible for a guild.
func ShardForGuild(guildID Snowflake, shardCount int32) int32 {
	if shardCount <= 0 {
		return 0
	}

	return int32((uint64(guildID) >> 22) % uint64(shardCount))
}

// GatewayPayload represents a frame received from the gateway.
type GatewayPayload struct {
	Type     string               `json:"t"`
	Data     crustjson.RawMessage `json:"d"`
	Sequence int64                `json:"s"`
	Op       GatewayOp            `json:"op"`
}

// SentPayload represents a frame we send to the gateway.
type SentPayload struct {
	Data any       `json:"d"`
	Op   GatewayOp `json:"op"`
}

// Identify starts a new session on a connection.
type Identify struct {
	Properties     *IdentifyProperties `json:"properties"`
	Presence       *UpdateStatus       `json:"presence,omitempty"`
	Token          string              `json:"token"`
	Shard          [2]int32            `json:"shard"`
	LargeThreshold int32               `json:"large_threshold"`
	Intents        int32               `json:"intents"`
	Compress       bool                `json:"compress"`
}

// IdentifyProperties are the connection properties sent with Identify.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Resume replays events missed since Sequence on SessionID.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// Hello is the first frame sent by the gateway on every connection.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// UnavailableGuild is a guild listed in READY before its GUILD_CREATE arrives.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// Ready is the dispatch concluding a successful identify.
type Ready struct {
	User             crustjson.RawMessage `json:"user"`
	SessionID        string               `json:"session_id"`
	ResumeGatewayURL string               `json:"resume_gateway_url"`
	Guilds           []UnavailableGuild   `json:"guilds"`
	Shard            []int32              `json:"shard,omitempty"`
	Version          int32                `json:"v"`
}

// UpdateStatus updates the presence of the client.
type UpdateStatus struct {
	Status     string      `json:"status"`
	Activities []*Activity `json:"activities"`
	Since      *int64      `json:"since"`
	AFK        bool        `json:"afk"`
}

// ActivityType represents an activity's type.
type ActivityType int32

const (
	ActivityTypeGame ActivityType = iota
	ActivityTypeStreaming
	ActivityTypeListening
	ActivityTypeWatching
	ActivityTypeCustom
	ActivityTypeCompeting
)

// Activity is the subset of an activity a bot may set.
type Activity struct {
	URL   *string      `json:"url,omitempty"`
	Name  string       `json:"name"`
	State string       `json:"state,omitempty"`
	Type  ActivityType `json:"type"`
}

// SessionStartLimit is the connection budget returned by GET /gateway/bot.
type SessionStartLimit struct {
	Total          int32 `json:"total"`
	Remaining      int32 `json:"remaining"`
	ResetAfter     int64 `json:"reset_after"`
	MaxConcurrency int32 `json:"max_concurrency"`
}

// GatewayBotResponse is the response of GET /gateway/bot.
type GatewayBotResponse struct {
	URL               string            `json:"url"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
	Shards            int32             `json:"shards"`
}
