package quant

// Level describes one quantization configuration for a model: the trade
// between resident memory and output quality.
type Level struct {
	// Name is the GGUF-style level name, e.g. "Q4_K_M".
	Name string
	// MemoryMB is the approximate resident footprint.
	MemoryMB int
	// Quality scores output fidelity from 0 to 100.
	Quality int
	// SpeedFactor is relative inference speed (1.0 = baseline).
	SpeedFactor float64
}

// canonicalOrder ranks level names from highest quality/memory to lowest.
// Fallback chains are ordered along this ranking.
var canonicalOrder = []string{"Q8_0", "Q6_K", "Q5_K", "Q4_K_M", "Q4_K", "Q3_K_M", "Q2_K"}

// defaultLevels is the built-in descriptor table for a ~7B parameter model.
var defaultLevels = map[string]Level{
	"Q8_0":   {Name: "Q8_0", MemoryMB: 7200, Quality: 98, SpeedFactor: 0.7},
	"Q6_K":   {Name: "Q6_K", MemoryMB: 5600, Quality: 95, SpeedFactor: 0.8},
	"Q5_K":   {Name: "Q5_K", MemoryMB: 4800, Quality: 90, SpeedFactor: 0.9},
	"Q4_K_M": {Name: "Q4_K_M", MemoryMB: 4100, Quality: 85, SpeedFactor: 1.0},
	"Q4_K":   {Name: "Q4_K", MemoryMB: 3900, Quality: 80, SpeedFactor: 1.0},
	"Q3_K_M": {Name: "Q3_K_M", MemoryMB: 3300, Quality: 75, SpeedFactor: 1.1},
	"Q2_K":   {Name: "Q2_K", MemoryMB: 2600, Quality: 70, SpeedFactor: 1.2},
}

// rank returns the canonical position of a level name; unknown names sort
// after every known one.
func rank(name string) int {
	for i, n := range canonicalOrder {
		if n == name {
			return i
		}
	}
	return len(canonicalOrder)
}

// KnownLevel looks up the built-in descriptor for a level name.
func KnownLevel(name string) (Level, bool) {
	l, ok := defaultLevels[name]
	return l, ok
}

// SortChain orders levels along the canonical ranking, highest quality
// first, so the cheapest level is last.
func SortChain(levels []Level) []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j].Name) < rank(out[j-1].Name); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// PickLevel is the pure decision policy: the highest-quality level in chain
// whose footprint fits the available memory and whose quality clears the
// floor. Returns false when nothing fits.
func PickLevel(availableMB int, chain []Level, minQuality int) (Level, bool) {
	for _, l := range chain {
		if l.Quality < minQuality {
			continue
		}
		if l.MemoryMB <= availableMB {
			return l, true
		}
	}
	return Level{}, false
}

// Evaluation compares the quality/memory trade of one switch.
type Evaluation struct {
	// MemorySavedMB is the footprint delta (positive when the target is cheaper).
	MemorySavedMB int `json:"mem_saved_mb"`
	// QualityDrop is the quality delta (positive when the target is worse).
	QualityDrop int `json:"quality_drop"`
	// Score weighs memory saved against quality lost, 0-100.
	Score float64 `json:"score"`
}

// Evaluate scores a prospective switch. Memory savings dominate, quality
// loss discounts; a switch that saves nothing scores 0.
func Evaluate(from, to Level) Evaluation {
	saved := from.MemoryMB - to.MemoryMB
	drop := from.Quality - to.Quality
	e := Evaluation{MemorySavedMB: saved, QualityDrop: drop}
	if saved <= 0 {
		return e
	}
	// Normalize: every 100MB saved earns a point, every quality point lost
	// costs one; clamp to [0,100].
	score := float64(saved)/100 - float64(drop)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	e.Score = score
	return e
}
