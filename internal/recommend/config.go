package recommend

const (
	// DefaultLowMasteryThreshold is the EMA below which an outcome counts
	// as weak.
	DefaultLowMasteryThreshold = 0.5

	// DefaultLongLessonMinutes is the duration above which a lesson is
	// penalized as long.
	DefaultLongLessonMinutes = 40

	// DefaultTopN is how many candidates a recommendation returns.
	DefaultTopN = 3
)

// Config tunes the scorer. Zero fields take their defaults.
type Config struct {
	Weights             Weights
	LowMasteryThreshold float64
	LongLessonMinutes   int
	TopN                int
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		LowMasteryThreshold: DefaultLowMasteryThreshold,
		LongLessonMinutes:   DefaultLongLessonMinutes,
		TopN:                DefaultTopN,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = def.Weights
	}
	if c.LowMasteryThreshold <= 0 {
		c.LowMasteryThreshold = def.LowMasteryThreshold
	}
	if c.LongLessonMinutes <= 0 {
		c.LongLessonMinutes = def.LongLessonMinutes
	}
	if c.TopN <= 0 {
		c.TopN = def.TopN
	}
	return c
}

// Constraints are per-request limits.
type Constraints struct {
	// AvoidRepeatWithinDays is the window in which a recently taught lesson
	// is penalized. Engine.Score treats zero or less as disabled;
	// scheduler.Service replaces zero with the configured default, so
	// scheduler callers pass a negative value to disable the signal.
	AvoidRepeatWithinDays int `json:"avoidRepeatWithinDays"`
	// TopN overrides Config.TopN when positive.
	TopN int `json:"topN,omitempty"`
}
