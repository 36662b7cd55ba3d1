// Package protocol models the decoded Minecraft packets the pipeline
// inspects and the synthesized packets the verification world emits. The
// wire codec lives in the proxy front-end; this package only names packet
// types, tracks connection states, and describes which join fields each
// protocol generation expects.
package protocol

import "fmt"

// ============================================================================
// CONNECTION STATES
// ============================================================================

// State is the Minecraft connection state a client negotiates through.
type State uint8

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StatePlay
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateStatus:
		return "STATUS"
	case StateLogin:
		return "LOGIN"
	case StatePlay:
		return "PLAY"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ============================================================================
// INBOUND PACKET TYPE NAMES
// ============================================================================

// Canonical inbound packet-type names. The front-end codec maps wire ids
// to these names; filter rules match on them.
const (
	TypeHandshake          = "Handshake"
	TypeStatusRequest      = "StatusRequest"
	TypeServerPing         = "ServerPing"
	TypeLoginStart         = "LoginStart"
	TypeEncryptionResponse = "EncryptionResponse"
	TypeLoginAcknowledged  = "LoginAcknowledged"
	TypeKeepAlive          = "KeepAlive"
	TypeChatMessage        = "ChatMessage"
	TypeClientSettings     = "ClientSettings"
	TypePluginMessage      = "PluginMessage"
	TypePlayerPosition     = "PlayerPosition"
	TypePlayerPositionLook = "PlayerPositionLook"
	TypePlayerLook         = "PlayerLook"
	TypePlayerOnGround     = "PlayerOnGround"
	TypePlayerAction       = "PlayerAction"
	TypePlayerCommand      = "PlayerCommand"
	TypeInteract           = "Interact"
	TypeSwingArm           = "SwingArm"
	TypeHeldItemChange     = "HeldItemChange"
	TypeTeleportConfirm    = "TeleportConfirm"
)

// Packet is one decoded inbound packet as the pipeline sees it.
//
// Size is the decoded frame length in bytes and is the authoritative
// value for size limits. Payload is optional: the codec attaches it only
// for packet types carrying free-form strings (chat, plugin channels),
// and filters must tolerate nil. Move is non-nil for movement packets,
// Action for interaction packets; both are nil on plain traffic.
type Packet struct {
	Type    string
	Size    int
	Payload []byte

	// NextState is only meaningful on Handshake packets, where the
	// client declares the state it intends to enter.
	NextState State

	Move   *Movement
	Action *Action
}

// Movement is the positional payload of a movement packet.
type Movement struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool

	// HasPos distinguishes look-only packets from positional ones.
	HasPos  bool
	HasLook bool
}

// ActionKind classifies interaction packets relevant to verification.
type ActionKind uint8

const (
	ActionJump ActionKind = iota
	ActionSneakStart
	ActionSneakStop
	ActionSprintStart
	ActionSprintStop
	ActionInteract
	ActionSwing
)

func (k ActionKind) String() string {
	switch k {
	case ActionJump:
		return "JUMP"
	case ActionSneakStart:
		return "SNEAK_START"
	case ActionSneakStop:
		return "SNEAK_STOP"
	case ActionSprintStart:
		return "SPRINT_START"
	case ActionSprintStop:
		return "SPRINT_STOP"
	case ActionInteract:
		return "INTERACT"
	case ActionSwing:
		return "SWING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Action is the interaction payload of an action packet.
type Action struct {
	Kind ActionKind
}

// IsMovement reports whether the packet carries positional data.
func (p *Packet) IsMovement() bool {
	return p.Move != nil && p.Move.HasPos
}

// ============================================================================
// OUTBOUND SYNTHESIZED PACKETS
// ============================================================================

// Outbound is a synthesized packet handed to the codec for serialization.
type Outbound interface {
	PacketName() string
}

// GameMode mirrors the wire-level game mode ids.
type GameMode uint8

const (
	GameModeSurvival GameMode = iota
	GameModeCreative
	GameModeAdventure
	GameModeSpectator
)

// Difficulty mirrors the wire-level difficulty ids.
type Difficulty uint8

const (
	DifficultyPeaceful Difficulty = iota
	DifficultyEasy
	DifficultyNormal
	DifficultyHard
)

// JoinGame materializes the initial world state for a verification
// session. Fields describes which members are meaningful for the client's
// protocol generation; the codec serializes only those.
type JoinGame struct {
	EntityID           int32
	Hardcore           bool
	GameMode           GameMode
	PreviousGameMode   int8
	Difficulty         Difficulty
	DimensionKey       string
	DimensionType      string
	LevelType          string
	HashedSeed         int64
	MaxPlayers         int
	ViewDistance       int
	SimulationDistance int
	ReducedDebugInfo   bool
	ShowRespawnScreen  bool
	IsDebug            bool
	IsFlat             bool
	HasDeathLocation   bool

	Fields JoinFields
}

func (JoinGame) PacketName() string { return "JoinGame" }

// PositionLook teleports the client to an absolute position.
type PositionLook struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	TeleportID int32
}

func (PositionLook) PacketName() string { return "PositionLook" }

// SpawnPosition sets the compass/world-spawn point.
type SpawnPosition struct {
	X, Y, Z int32
	Angle   float32
}

func (SpawnPosition) PacketName() string { return "SpawnPosition" }

// KeepAliveOut keeps the verification session ticking.
type KeepAliveOut struct {
	ID int64
}

func (KeepAliveOut) PacketName() string { return "KeepAlive" }
