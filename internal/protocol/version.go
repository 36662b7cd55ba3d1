package protocol

import "fmt"

// ============================================================================
// PROTOCOL VERSIONS
// ============================================================================

// Version is a Minecraft protocol version number as negotiated in the
// handshake.
type Version int32

// Well-known protocol versions, one per client release line.
const (
	V1_8    Version = 47
	V1_9    Version = 107
	V1_10   Version = 210
	V1_11   Version = 315
	V1_12   Version = 335
	V1_12_2 Version = 340
	V1_13   Version = 393
	V1_13_2 Version = 404
	V1_14   Version = 477
	V1_14_4 Version = 498
	V1_15   Version = 573
	V1_15_2 Version = 578
	V1_16   Version = 735
	V1_16_2 Version = 751
	V1_16_4 Version = 754
	V1_17   Version = 755
	V1_18   Version = 757
	V1_18_2 Version = 758
	V1_19   Version = 759
	V1_19_2 Version = 760
	V1_19_3 Version = 761
	V1_19_4 Version = 762
	V1_20   Version = 763
	V1_20_2 Version = 764
	V1_20_3 Version = 765
	V1_20_5 Version = 766
	V1_21   Version = 767
	V1_21_2 Version = 768
	V1_21_4 Version = 769
	V1_21_5 Version = 770
)

var versionNames = map[Version]string{
	V1_8: "1.8", V1_9: "1.9", V1_10: "1.10", V1_11: "1.11",
	V1_12: "1.12", V1_12_2: "1.12.2", V1_13: "1.13", V1_13_2: "1.13.2",
	V1_14: "1.14", V1_14_4: "1.14.4", V1_15: "1.15", V1_15_2: "1.15.2",
	V1_16: "1.16", V1_16_2: "1.16.2", V1_16_4: "1.16.4", V1_17: "1.17",
	V1_18: "1.18", V1_18_2: "1.18.2", V1_19: "1.19", V1_19_2: "1.19.2",
	V1_19_3: "1.19.3", V1_19_4: "1.19.4", V1_20: "1.20", V1_20_2: "1.20.2",
	V1_20_3: "1.20.3", V1_20_5: "1.20.5", V1_21: "1.21", V1_21_2: "1.21.2",
	V1_21_4: "1.21.4", V1_21_5: "1.21.5",
}

func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return fmt.Sprintf("protocol %d", int32(v))
}

// Supported reports whether the version falls inside the range the
// verification world can synthesize a join for.
func (v Version) Supported() bool {
	return v >= V1_8 && v <= V1_21_5
}

// ============================================================================
// JOIN GENERATIONS
// ============================================================================

// Generation buckets protocol versions whose JoinGame layout matches.
type Generation uint8

const (
	// GenLegacy covers 1.8 through 1.13.2: integer dimension id, level
	// type string, no view distance.
	GenLegacy Generation = iota

	// GenViewDistance covers 1.14 through 1.15.2: adds view distance.
	GenViewDistance

	// GenDimensionCodec covers 1.16 through 1.16.5: dimension registry
	// codec plus identifier, separate hardcore flag from 1.16.2.
	GenDimensionCodec

	// GenSimulation covers 1.17 through 1.18.2: adds simulation distance.
	GenSimulation

	// GenDeathLocation covers 1.19 through 1.20.1: adds the optional
	// last-death location.
	GenDeathLocation

	// GenConfigPhase covers 1.20.2 and later: registries move to the
	// configuration phase, join references dimensions by registry id.
	GenConfigPhase
)

func (g Generation) String() string {
	switch g {
	case GenLegacy:
		return "legacy"
	case GenViewDistance:
		return "view-distance"
	case GenDimensionCodec:
		return "dimension-codec"
	case GenSimulation:
		return "simulation"
	case GenDeathLocation:
		return "death-location"
	case GenConfigPhase:
		return "config-phase"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(g))
	}
}

// GenerationOf maps a protocol version to its join layout generation.
func GenerationOf(v Version) Generation {
	switch {
	case v < V1_14:
		return GenLegacy
	case v < V1_16:
		return GenViewDistance
	case v < V1_17:
		return GenDimensionCodec
	case v < V1_19:
		return GenSimulation
	case v < V1_20_2:
		return GenDeathLocation
	default:
		return GenConfigPhase
	}
}

// JoinFields records which JoinGame members the codec serializes for a
// given generation.
type JoinFields struct {
	DimensionAsID      bool
	LevelType          bool
	ViewDistance       bool
	DimensionCodec     bool
	SeparateHardcore   bool
	SimulationDistance bool
	DeathLocation      bool
	RegistryByID       bool
}

// JoinFieldsFor returns the field set for a protocol version.
func JoinFieldsFor(v Version) JoinFields {
	switch GenerationOf(v) {
	case GenLegacy:
		return JoinFields{DimensionAsID: true, LevelType: true}
	case GenViewDistance:
		return JoinFields{DimensionAsID: true, LevelType: true, ViewDistance: true}
	case GenDimensionCodec:
		return JoinFields{
			ViewDistance:     true,
			DimensionCodec:   true,
			SeparateHardcore: v >= V1_16_2,
		}
	case GenSimulation:
		return JoinFields{
			ViewDistance:       true,
			DimensionCodec:     true,
			SeparateHardcore:   true,
			SimulationDistance: v >= V1_18,
		}
	case GenDeathLocation:
		return JoinFields{
			ViewDistance:       true,
			DimensionCodec:     true,
			SeparateHardcore:   true,
			SimulationDistance: true,
			DeathLocation:      true,
		}
	default:
		return JoinFields{
			ViewDistance:       true,
			SeparateHardcore:   true,
			SimulationDistance: true,
			DeathLocation:      true,
			RegistryByID:       true,
		}
	}
}
