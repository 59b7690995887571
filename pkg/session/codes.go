package session

import (
	"fmt"
	"math/rand"
)

// Word lists for readable session codes of the shape
// <adjective>-<noun>-<0..99>, e.g. "swift-neural-42".
var (
	adjectives = []string{
		"swift", "bright", "clever", "neural", "quantum", "cosmic",
		"rapid", "dynamic", "active", "smart", "fast", "prime",
	}
	nouns = []string{
		"brain", "cortex", "synapse", "neuron", "signal", "wave",
		"pulse", "mind", "link", "node", "core", "stream",
	}
)

func generateCode(rng *rand.Rand) string {
	return fmt.Sprintf("%s-%s-%d",
		adjectives[rng.Intn(len(adjectives))],
		nouns[rng.Intn(len(nouns))],
		rng.Intn(100))
}
