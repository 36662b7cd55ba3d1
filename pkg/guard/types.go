package guard

import (
	"github.com/wardstone/wardstone/internal/config"
	"github.com/wardstone/wardstone/internal/core"
	"github.com/wardstone/wardstone/internal/events"
	"github.com/wardstone/wardstone/internal/protocol"
	"github.com/wardstone/wardstone/internal/security"
)

// The pipeline's working types are defined in internal packages; the
// aliases below are the supported way for front-ends to name them.

// Config is the full configuration tree. Load it from YAML with
// LoadConfig or start from DefaultConfig and adjust fields.
type Config = config.Config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides. A missing file leaves defaults plus
// environment in effect.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// Verdict is the pipeline's answer for a connection or packet.
type Verdict = core.Verdict

// Verdicts, from least to most severe.
const (
	VerdictAllow          = core.VerdictAllow
	VerdictDropSilent     = core.VerdictDropSilent
	VerdictDropBlock      = core.VerdictDropBlock
	VerdictDropDisconnect = core.VerdictDropDisconnect
)

// LoginVerdict is the pipeline's answer for a login attempt.
type LoginVerdict = core.LoginVerdict

// LoginAction is the action carried by a LoginVerdict.
type LoginAction = core.LoginAction

// Login actions.
const (
	LoginAllow             = core.LoginAllow
	LoginEnterVerification = core.LoginEnterVerification
	LoginKick              = core.LoginKick
)

// LoginInfo describes one login attempt.
type LoginInfo = core.LoginInfo

// Transport is the write-side contract the embedding front-end must
// implement: deliver synthesized packets, transfer verified players,
// and disconnect with a reason.
type Transport = core.Transport

// Packet is one decoded inbound frame.
type Packet = protocol.Packet

// State is a connection's protocol phase; a handshake packet carries
// the requested next state.
type State = protocol.State

// Connection states.
const (
	StateHandshake = protocol.StateHandshake
	StateStatus    = protocol.StateStatus
	StateLogin     = protocol.StateLogin
	StatePlay      = protocol.StatePlay
	StateClosed    = protocol.StateClosed
)

// Canonical inbound packet-type names for Packet.Type.
const (
	TypeHandshake          = protocol.TypeHandshake
	TypeStatusRequest      = protocol.TypeStatusRequest
	TypeServerPing         = protocol.TypeServerPing
	TypeLoginStart         = protocol.TypeLoginStart
	TypeEncryptionResponse = protocol.TypeEncryptionResponse
	TypeLoginAcknowledged  = protocol.TypeLoginAcknowledged
	TypeKeepAlive          = protocol.TypeKeepAlive
	TypeChatMessage        = protocol.TypeChatMessage
	TypeClientSettings     = protocol.TypeClientSettings
	TypePluginMessage      = protocol.TypePluginMessage
	TypePlayerPosition     = protocol.TypePlayerPosition
	TypePlayerPositionLook = protocol.TypePlayerPositionLook
	TypePlayerLook         = protocol.TypePlayerLook
	TypePlayerOnGround     = protocol.TypePlayerOnGround
	TypePlayerAction       = protocol.TypePlayerAction
	TypePlayerCommand      = protocol.TypePlayerCommand
	TypeInteract           = protocol.TypeInteract
	TypeSwingArm           = protocol.TypeSwingArm
	TypeHeldItemChange     = protocol.TypeHeldItemChange
	TypeTeleportConfirm    = protocol.TypeTeleportConfirm
)

// Movement carries the positional payload of a movement packet.
type Movement = protocol.Movement

// Action carries a non-positional in-world action.
type Action = protocol.Action

// ActionKind classifies an in-world action.
type ActionKind = protocol.ActionKind

// Action kinds.
const (
	ActionJump        = protocol.ActionJump
	ActionSneakStart  = protocol.ActionSneakStart
	ActionSneakStop   = protocol.ActionSneakStop
	ActionSprintStart = protocol.ActionSprintStart
	ActionSprintStop  = protocol.ActionSprintStop
	ActionInteract    = protocol.ActionInteract
	ActionSwing       = protocol.ActionSwing
)

// Version identifies the client's protocol revision.
type Version = protocol.Version

// Outbound packets the Transport must know how to encode.
type (
	Outbound      = protocol.Outbound
	JoinGame      = protocol.JoinGame
	PositionLook  = protocol.PositionLook
	SpawnPosition = protocol.SpawnPosition
	KeepAliveOut  = protocol.KeepAliveOut
)

// Status is the operational snapshot returned by Guard.Status.
type Status = security.Status

// Event is one entry on the security event feed.
type Event = events.Event
