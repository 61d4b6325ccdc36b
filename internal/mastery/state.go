package mastery

// MasteryState is a coarse label for an outcome's EMA, used for display.
type MasteryState string

const (
	StateNew        MasteryState = "new"
	StateLearning   MasteryState = "learning"
	StatePracticing MasteryState = "practicing"
	StateMastered   MasteryState = "mastered"
)

const (
	// LearningBelow is the EMA under which an outcome is still being learned.
	LearningBelow = 0.5
	// MasteredAt is the EMA from which an outcome counts as mastered.
	MasteredAt = 0.8
)

// StateOf labels an EMA value. ok is false when the outcome has no
// estimate yet.
func StateOf(ema float64, ok bool) MasteryState {
	switch {
	case !ok:
		return StateNew
	case ema < LearningBelow:
		return StateLearning
	case ema < MasteredAt:
		return StatePracticing
	default:
		return StateMastered
	}
}
