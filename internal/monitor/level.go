package monitor

// Level is the memory pressure classification, ordered by severity.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Thresholds are the used-memory percentages at which each level begins.
// Must be strictly increasing.
type Thresholds struct {
	WarningPct   float64
	CriticalPct  float64
	EmergencyPct float64
}

// DefaultThresholds classifies 75% as warning, 90% as critical and 98% as
// emergency.
func DefaultThresholds() Thresholds {
	return Thresholds{WarningPct: 75, CriticalPct: 90, EmergencyPct: 98}
}

// Classify maps a used-memory percentage to a level. Fatal is never produced
// here; it is entered only when emergency handling is exhausted.
func (t Thresholds) Classify(percent float64) Level {
	switch {
	case percent >= t.EmergencyPct:
		return LevelEmergency
	case percent >= t.CriticalPct:
		return LevelCritical
	case percent >= t.WarningPct:
		return LevelWarning
	default:
		return LevelNormal
	}
}
