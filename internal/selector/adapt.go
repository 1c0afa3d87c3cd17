package selector

import "github.com/pavelanni/quizmaster/internal/model"

// Default streak thresholds.
const (
	DefaultStreakUp   = 2
	DefaultStreakDown = 2
)

// StreakConfig sets how many consecutive outcomes move the tier.
type StreakConfig struct {
	Up   int
	Down int
}

// Streak counts the current run of correct or incorrect answers.
type Streak struct {
	Correct int
	Wrong   int
}

// Adapt applies one graded answer to the session's target tier. Up consecutive
// correct answers raise the tier one step, Down consecutive wrong answers lower
// it one step. Both counters reset when the tier moves.
func Adapt(tier model.Difficulty, s Streak, correct bool, cfg StreakConfig) (model.Difficulty, Streak) {
	if cfg.Up <= 0 {
		cfg.Up = DefaultStreakUp
	}
	if cfg.Down <= 0 {
		cfg.Down = DefaultStreakDown
	}
	i := tier.Index()
	if i < 0 {
		i = model.DifficultyMedium.Index()
	}

	if correct {
		s.Correct++
		s.Wrong = 0
		if s.Correct >= cfg.Up {
			if i < 2 {
				i++
			}
			s = Streak{}
		}
	} else {
		s.Wrong++
		s.Correct = 0
		if s.Wrong >= cfg.Down {
			if i > 0 {
				i--
			}
			s = Streak{}
		}
	}
	return model.Difficulties[i], s
}

// Allocate splits count questions evenly across slots. The remainder goes to
// the earliest slots.
func Allocate(count, slots int) []int {
	if slots <= 0 {
		return nil
	}
	out := make([]int, slots)
	base, rem := count/slots, count%slots
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}
