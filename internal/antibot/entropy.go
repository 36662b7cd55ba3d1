package antibot

import (
	"math"
	"strings"
)

// usernameEntropy measures the character diversity of a name in bits per
// character. Human-picked names land around 2.5 to 3.5; generated names
// built from one repeated class ("xXxXxX", "aaaa123") fall well below.
func usernameEntropy(name string) float64 {
	if len(name) == 0 {
		return 0
	}

	charCounts := make(map[rune]int)
	total := 0
	for _, char := range name {
		charCounts[char]++
		total++
	}

	var entropy float64
	for _, count := range charCounts {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// longestCharRun returns the length of the longest run of identical or
// ascending characters in name, case-folded. "abcde" and "11111" both
// score 5; bot kits enumerate names exactly this way.
func longestCharRun(name string) int {
	runes := []rune(strings.ToLower(name))
	if len(runes) == 0 {
		return 0
	}

	best, run := 1, 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] || runes[i] == runes[i-1]+1 {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 1
		}
	}
	return best
}
