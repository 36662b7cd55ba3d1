package antibot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsernameEntropy(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     float64
	}{
		{"empty", "", 0},
		{"single repeated char", "aaaaaaaa", 0},
		{"two chars even split", "abababab", 1.0},
		{"four distinct chars", "abcd", 2.0},
		{"typical player name", "Steve_2077", 2.9219},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, usernameEntropy(tt.username), 0.001)
		})
	}
}

func TestLongestCharRun(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     int
	}{
		{"empty", "", 0},
		{"single char", "a", 1},
		{"identical run", "x11111y", 5},
		{"ascending run", "abcde", 5},
		{"case folded", "aAaA", 4},
		{"mixed identical and ascending", "aab", 3},
		{"alternating never runs", "abab", 2},
		{"typical player name", "Steve_2077", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, longestCharRun(tt.username))
		})
	}
}
