package attempt

import (
	"math/rand"

	"examprep/internal/catalog"
)

// SampleQuestions draws a uniform random subset of the candidate pool,
// shuffle-and-slice, without replacement. The returned order is the
// order the attempt will present; an empty result means the caller has
// no content to build an attempt from.
func SampleQuestions(pool []catalog.Question, target int) []catalog.Question {
	if target <= 0 || len(pool) == 0 {
		return nil
	}

	shuffled := make([]catalog.Question, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if target > len(shuffled) {
		target = len(shuffled)
	}
	return shuffled[:target]
}
