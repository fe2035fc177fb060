package crust

import (
	"context"

	"github.com/WelcomerTeam/Crust/crustjson"
)

// EventKind is a dispatch event known to this client. Events the client does
// not know about are delivered as EventKindUnknown with their name intact.
type EventKind uint8

const (
	EventKindUnknown EventKind = iota
	EventKindReady
	EventKindResumed
	EventKindApplicationCommandPermissionsUpdate
	EventKindAutoModerationRuleCreate
	EventKindAutoModerationRuleUpdate
	EventKindAutoModerationRuleDelete
	EventKindAutoModerationActionExecution
	EventKindChannelCreate
	EventKindChannelUpdate
	EventKindChannelDelete
	EventKindChannelPinsUpdate
	EventKindThreadCreate
	EventKindThreadUpdate
	EventKindThreadDelete
	EventKindThreadListSync
	EventKindThreadMemberUpdate
	EventKindThreadMembersUpdate
	EventKindEntitlementCreate
	EventKindEntitlementUpdate
	EventKindEntitlementDelete
	EventKindGuildCreate
	EventKindGuildUpdate
	EventKindGuildDelete
	EventKindGuildAuditLogEntryCreate
	EventKindGuildBanAdd
	EventKindGuildBanRemove
	EventKindGuildEmojisUpdate
	EventKindGuildStickersUpdate
	EventKindGuildIntegrationsUpdate
	EventKindGuildMemberAdd
	EventKindGuildMemberRemove
	EventKindGuildMemberUpdate
	EventKindGuildMembersChunk
	EventKindGuildRoleCreate
	EventKindGuildRoleUpdate
	EventKindGuildRoleDelete
	EventKindGuildScheduledEventCreate
	EventKindGuildScheduledEventUpdate
	EventKindGuildScheduledEventDelete
	EventKindGuildScheduledEventUserAdd
	EventKindGuildScheduledEventUserRemove
	EventKindIntegrationCreate
	EventKindIntegrationUpdate
	EventKindIntegrationDelete
	EventKindInteractionCreate
	EventKindInviteCreate
	EventKindInviteDelete
	EventKindMessageCreate
	EventKindMessageUpdate
	EventKindMessageDelete
	EventKindMessageDeleteBulk
	EventKindMessageReactionAdd
	EventKindMessageReactionRemove
	EventKindMessageReactionRemoveAll
	EventKindMessageReactionRemoveEmoji
	EventKindPresenceUpdate
	EventKindStageInstanceCreate
	EventKindStageInstanceUpdate
	EventKindStageInstanceDelete
	EventKindTypingStart
	EventKindUserUpdate
	EventKindVoiceStateUpdate
	EventKindVoiceServerUpdate
	EventKindWebhooksUpdate

	eventKindCount
)

var eventKindNames = [eventKindCount]string{
	EventKindUnknown:                             "",
	EventKindReady:                               "READY",
	EventKindResumed:                             "RESUMED",
	EventKindApplicationCommandPermissionsUpdate: "APPLICATION_COMMAND_PERMISSIONS_UPDATE",
	EventKindAutoModerationRuleCreate:            "AUTO_MODERATION_RULE_CREATE",
	EventKindAutoModerationRuleUpdate:            "AUTO_MODERATION_RULE_UPDATE",
	EventKindAutoModerationRuleDelete:            "AUTO_MODERATION_RULE_DELETE",
	EventKindAutoModerationActionExecution:       "AUTO_MODERATION_ACTION_EXECUTION",
	EventKindChannelCreate:                       "CHANNEL_CREATE",
	EventKindChannelUpdate:                       "CHANNEL_UPDATE",
	EventKindChannelDelete:                       "CHANNEL_DELETE",
	EventKindChannelPinsUpdate:                   "CHANNEL_PINS_UPDATE",
	EventKindThreadCreate:                        "THREAD_CREATE",
	EventKindThreadUpdate:                        "THREAD_UPDATE",
	EventKindThreadDelete:                        "THREAD_DELETE",
	EventKindThreadListSync:                      "THREAD_LIST_SYNC",
	EventKindThreadMemberUpdate:                  "THREAD_MEMBER_UPDATE",
	EventKindThreadMembersUpdate:                 "THREAD_MEMBERS_UPDATE",
	EventKindEntitlementCreate:                   "ENTITLEMENT_CREATE",
	EventKindEntitlementUpdate:                   "ENTITLEMENT_UPDATE",
	EventKindEntitlementDelete:                   "ENTITLEMENT_DELETE",
	EventKindGuildCreate:                         "GUILD_CREATE",
	EventKindGuildUpdate:                         "GUILD_UPDATE",
	EventKindGuildDelete:                         "GUILD_DELETE",
	EventKindGuildAuditLogEntryCreate:            "GUILD_AUDIT_LOG_ENTRY_CREATE",
	EventKindGuildBanAdd:                         "GUILD_BAN_ADD",
	EventKindGuildBanRemove:                      "GUILD_BAN_REMOVE",
	EventKindGuildEmojisUpdate:                   "GUILD_EMOJIS_UPDATE",
	EventKindGuildStickersUpdate:                 "GUILD_STICKERS_UPDATE",
	EventKindGuildIntegrationsUpdate:             "GUILD_INTEGRATIONS_UPDATE",
	EventKindGuildMemberAdd:                      "GUILD_MEMBER_ADD",
	EventKindGuildMemberRemove:                   "GUILD_MEMBER_REMOVE",
	EventKindGuildMemberUpdate:                   "GUILD_MEMBER_UPDATE",
	EventKindGuildMembersChunk:                   "GUILD_MEMBERS_CHUNK",
	EventKindGuildRoleCreate:                     "GUILD_ROLE_CREATE",
	EventKindGuildRoleUpdate:                     "GUILD_ROLE_UPDATE",
	EventKindGuildRoleDelete:                     "GUILD_ROLE_DELETE",
	EventKindGuildScheduledEventCreate:           "GUILD_SCHEDULED_EVENT_CREATE",
	EventKindGuildScheduledEventUpdate:           "GUILD_SCHEDULED_EVENT_UPDATE",
	EventKindGuildScheduledEventDelete:           "GUILD_SCHEDULED_EVENT_DELETE",
	EventKindGuildScheduledEventUserAdd:          "GUILD_SCHEDULED_EVENT_USER_ADD",
	EventKindGuildScheduledEventUserRemove:       "GUILD_SCHEDULED_EVENT_USER_REMOVE",
	EventKindIntegrationCreate:                   "INTEGRATION_CREATE",
	EventKindIntegrationUpdate:                   "INTEGRATION_UPDATE",
	EventKindIntegrationDelete:                   "INTEGRATION_DELETE",
	EventKindInteractionCreate:                   "INTERACTION_CREATE",
	EventKindInviteCreate:                        "INVITE_CREATE",
	EventKindInviteDelete:                        "INVITE_DELETE",
	EventKindMessageCreate:                       "MESSAGE_CREATE",
	EventKindMessageUpdate:                       "MESSAGE_UPDATE",
	EventKindMessageDelete:                       "MESSAGE_DELETE",
	EventKindMessageDeleteBulk:                   "MESSAGE_DELETE_BULK",
	EventKindMessageReactionAdd:                  "MESSAGE_REACTION_ADD",
	EventKindMessageReactionRemove:               "MESSAGE_REACTION_REMOVE",
	EventKindMessageReactionRemoveAll:            "MESSAGE_REACTION_REMOVE_ALL",
	EventKindMessageReactionRemoveEmoji:          "MESSAGE_REACTION_REMOVE_EMOJI",
	EventKindPresenceUpdate:                      "PRESENCE_UPDATE",
	EventKindStageInstanceCreate:                 "STAGE_INSTANCE_CREATE",
	EventKindStageInstanceUpdate:                 "STAGE_INSTANCE_UPDATE",
	EventKindStageInstanceDelete:                 "STAGE_INSTANCE_DELETE",
	EventKindTypingStart:                         "TYPING_START",
	EventKindUserUpdate:                          "USER_UPDATE",
	EventKindVoiceStateUpdate:                    "VOICE_STATE_UPDATE",
	EventKindVoiceServerUpdate:                   "VOICE_SERVER_UPDATE",
	EventKindWebhooksUpdate:                      "WEBHOOKS_UPDATE",
}

var eventKindsByName = func() map[string]EventKind {
	kinds := make(map[string]EventKind, eventKindCount)

	for kind := EventKind(1); kind < eventKindCount; kind++ {
		kinds[eventKindNames[kind]] = kind
	}

	return kinds
}()

// EventKindFromName returns the kind of a dispatch event name.
func EventKindFromName(name string) EventKind {
	return eventKindsByName[name]
}

func (kind EventKind) String() string {
	if kind == EventKindUnknown || kind >= eventKindCount {
		return "UNKNOWN"
	}

	return eventKindNames[kind]
}

// Event is a decoded dispatch frame.
type Event struct {
	Name     string               `json:"t"`
	Data     crustjson.RawMessage `json:"d"`
	Sequence int64                `json:"s"`
	Kind     EventKind            `json:"-"`
}

// EventDispatcher receives every dispatch event in the order the shard
// received them. Dispatch is called on the shard's read goroutine, so a slow
// dispatcher delays that shard only.
type EventDispatcher interface {
	Dispatch(ctx context.Context, shard *Shard, event Event)
}

type DispatchHandler func(ctx context.Context, shard *Shard, event Event)

// DispatchTable routes events to a handler per kind. Kinds without a handler
// are ignored; Unknown receives events this client has no kind for.
type DispatchTable struct {
	handlers [eventKindCount]DispatchHandler

	Unknown DispatchHandler
}

func NewDispatchTable() *DispatchTable {
	return &DispatchTable{}
}

// On registers the handler for kind, replacing any previous one.
func (t *DispatchTable) On(kind EventKind, handler DispatchHandler) *DispatchTable {
	if kind == EventKindUnknown {
		t.Unknown = handler
	} else if kind < eventKindCount {
		t.handlers[kind] = handler
	}

	return t
}

func (t *DispatchTable) Dispatch(ctx context.Context, shard *Shard, event Event) {
	handler := t.Unknown
	if event.Kind != EventKindUnknown && event.Kind < eventKindCount {
		handler = t.handlers[event.Kind]
	}

	if handler != nil {
		handler(ctx, shard, event)
	}
}

// Dispatchers fans an event out to several dispatchers in order.
type Dispatchers []EventDispatcher

func (d Dispatchers) Dispatch(ctx context.Context, shard *Shard, event Event) {
	for _, dispatcher := range d {
		dispatcher.Dispatch(ctx, shard, event)
	}
}
