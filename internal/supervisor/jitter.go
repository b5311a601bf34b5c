package supervisor

import (
	"math/rand"
	"time"
)

// sessionSeed mixes the per-run seed with the player ID so each player
// draws from its own deterministic random stream. A restarted player
// keeps its timing offset instead of re-randomizing into lockstep with
// its neighbors.
func sessionSeed(playerID int, runSeed int64) int64 {
	return int64(playerID) ^ runSeed
}

// StartJitter returns the deterministic start offset for one player,
// within [0, max). The same player, run seed, and max always produce
// the same offset. A max of zero or less disables jitter.
func StartJitter(playerID int, runSeed int64, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	rng := rand.New(rand.NewSource(sessionSeed(playerID, runSeed)))
	return time.Duration(rng.Int63n(int64(max)))
}
