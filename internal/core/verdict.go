// Package core defines the verdicts, login outcomes, and front-end
// contracts shared by every stage of the anti-abuse pipeline.
package core

import "fmt"

// Verdict is the pipeline's decision for a connection or packet event.
type Verdict uint8

const (
	// VerdictAllow passes the event to the next stage.
	VerdictAllow Verdict = iota

	// VerdictDropSilent discards the packet but keeps the connection open.
	VerdictDropSilent

	// VerdictDropBlock discards the event, closes the connection, and
	// places the source IP on the temporary blocklist.
	VerdictDropBlock

	// VerdictDropDisconnect discards the event and closes the connection
	// without blocking the source.
	VerdictDropDisconnect
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "ALLOW"
	case VerdictDropSilent:
		return "DROP_SILENT"
	case VerdictDropBlock:
		return "DROP_AND_BLOCK"
	case VerdictDropDisconnect:
		return "DROP_AND_DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(v))
	}
}

// Terminal reports whether the verdict ends the connection.
func (v Verdict) Terminal() bool {
	return v == VerdictDropBlock || v == VerdictDropDisconnect
}

// LoginAction is the category of a login verdict.
type LoginAction uint8

const (
	LoginAllow LoginAction = iota
	LoginEnterVerification
	LoginKick
)

func (a LoginAction) String() string {
	switch a {
	case LoginAllow:
		return "ALLOW"
	case LoginEnterVerification:
		return "ENTER_VERIFICATION"
	case LoginKick:
		return "KICK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
	}
}

// LoginVerdict is the decision for a login attempt. KickMessage is only
// meaningful when Action is LoginKick.
type LoginVerdict struct {
	Action      LoginAction
	KickMessage string
}

// AllowLogin admits the player without further ceremony.
func AllowLogin() LoginVerdict {
	return LoginVerdict{Action: LoginAllow}
}

// EnterVerification routes the player into the verification world.
func EnterVerification() LoginVerdict {
	return LoginVerdict{Action: LoginEnterVerification}
}

// Kick rejects the login with the given message.
func Kick(message string) LoginVerdict {
	return LoginVerdict{Action: LoginKick, KickMessage: message}
}
