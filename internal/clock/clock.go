// Package clock provides the deterministic seeded randomness each scheduler
// draws its arrival process from, and the identifiers a run is tagged with.
package clock

import (
	"hash/fnv"
	"math/rand"

	"github.com/google/uuid"
)

// Salt values give the concurrent and Poisson-family strategies distinct
// seeds for the same --seed and runner id. The Poisson schedulers draw their
// arrival stream with SaltPoisson; the Concurrent scheduler's think-time
// delay is fixed and draws no random numbers, so SaltConcurrent is not used
// by any scheduler.
const (
	SaltConcurrent = 128
	SaltPoisson    = 121
)

// Seed reproduces base_seed + hash(runnerID) mod 10000 + salt.
func Seed(baseSeed int64, runnerID string, salt int64) int64 {
	h := fnv.New32a()
	h.Write([]byte(runnerID))
	return baseSeed + int64(h.Sum32())%10000 + salt
}

// New returns a *rand.Rand seeded for the given runner/salt combination.
func New(baseSeed int64, runnerID string, salt int64) *rand.Rand {
	return rand.New(rand.NewSource(Seed(baseSeed, runnerID, salt)))
}

// NewRunnerID returns a fresh v4 identifier for an unset runner id.
func NewRunnerID() string {
	return uuid.NewString()
}

// NewExperimentID returns a fresh v4 identifier for an unset experiment id.
func NewExperimentID() string {
	return uuid.NewString()
}

// NewDocumentID returns a fresh v4 identifier for one Sink bulk-index entry.
func NewDocumentID() string {
	return uuid.NewString()
}
