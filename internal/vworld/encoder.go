package vworld

import (
	"github.com/wardstone/wardstone/internal/protocol"
)

// Spawn placement inside the synthetic flat world. Clients stand on the
// platform surface at y=64.
const (
	spawnX = 0.5
	spawnY = 65.0
	spawnZ = 0.5
)

const (
	dimensionKey  = "minecraft:overworld"
	dimensionType = "minecraft:overworld"
	levelTypeFlat = "flat"
)

// synthesizeJoin builds the Join-Game state for the client's protocol
// generation. The codec serializes only the members named in Fields, so
// one struct covers every generation.
func synthesizeJoin(entityID int32, v protocol.Version) protocol.JoinGame {
	return protocol.JoinGame{
		EntityID:           entityID,
		Hardcore:           false,
		GameMode:           protocol.GameModeAdventure,
		PreviousGameMode:   -1,
		Difficulty:         protocol.DifficultyPeaceful,
		DimensionKey:       dimensionKey,
		DimensionType:      dimensionType,
		LevelType:          levelTypeFlat,
		HashedSeed:         0,
		MaxPlayers:         1,
		ViewDistance:       2,
		SimulationDistance: 2,
		ReducedDebugInfo:   false,
		ShowRespawnScreen:  true,
		IsDebug:            false,
		IsFlat:             true,
		HasDeathLocation:   false,
		Fields:             protocol.JoinFieldsFor(v),
	}
}

// synthesizeSpawnPoint sets the compass target to the platform center.
func synthesizeSpawnPoint() protocol.SpawnPosition {
	return protocol.SpawnPosition{X: 0, Y: 64, Z: 0, Angle: 0}
}

// synthesizeSpawn places the initial teleport at the platform center.
func synthesizeSpawn() protocol.PositionLook {
	return protocol.PositionLook{
		X:          spawnX,
		Y:          spawnY,
		Z:          spawnZ,
		Yaw:        0,
		Pitch:      0,
		TeleportID: 1,
	}
}
