package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationOf(t *testing.T) {
	cases := []struct {
		version Version
		want    Generation
	}{
		{V1_8, GenLegacy},
		{V1_12_2, GenLegacy},
		{V1_13_2, GenLegacy},
		{V1_14, GenViewDistance},
		{V1_15_2, GenViewDistance},
		{V1_16, GenDimensionCodec},
		{V1_16_4, GenDimensionCodec},
		{V1_17, GenSimulation},
		{V1_18_2, GenSimulation},
		{V1_19, GenDeathLocation},
		{V1_20, GenDeathLocation},
		{V1_20_2, GenConfigPhase},
		{V1_21_5, GenConfigPhase},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, GenerationOf(tc.version), "version %s", tc.version)
	}
}

func TestJoinFieldsBoundaries(t *testing.T) {
	// 1.16.0 still encodes hardcore inside the gamemode byte; 1.16.2
	// splits it out.
	assert.False(t, JoinFieldsFor(V1_16).SeparateHardcore)
	assert.True(t, JoinFieldsFor(V1_16_2).SeparateHardcore)

	// Simulation distance appears with 1.18, not 1.17.
	assert.False(t, JoinFieldsFor(V1_17).SimulationDistance)
	assert.True(t, JoinFieldsFor(V1_18).SimulationDistance)

	// Legacy clients take a plain dimension id and no view distance.
	legacy := JoinFieldsFor(V1_8)
	assert.True(t, legacy.DimensionAsID)
	assert.False(t, legacy.ViewDistance)
	assert.False(t, legacy.DimensionCodec)

	// Modern clients reference registries populated during the
	// configuration phase.
	modern := JoinFieldsFor(V1_21)
	assert.True(t, modern.RegistryByID)
	assert.False(t, modern.DimensionCodec)
}

func TestVersionNames(t *testing.T) {
	assert.Equal(t, "1.8", V1_8.String())
	assert.Equal(t, "1.20.5", V1_20_5.String())
	assert.Equal(t, "protocol 9999", Version(9999).String())

	assert.True(t, V1_8.Supported())
	assert.True(t, V1_21_5.Supported())
	assert.False(t, Version(5).Supported())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "HANDSHAKE", StateHandshake.String())
	assert.Equal(t, "PLAY", StatePlay.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
}

func TestPacketIsMovement(t *testing.T) {
	pos := &Packet{Type: TypePlayerPosition, Move: &Movement{X: 1, HasPos: true}}
	look := &Packet{Type: TypePlayerLook, Move: &Movement{Yaw: 90, HasLook: true}}
	plain := &Packet{Type: TypeKeepAlive}

	assert.True(t, pos.IsMovement())
	assert.False(t, look.IsMovement())
	assert.False(t, plain.IsMovement())
}
