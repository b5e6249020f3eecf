package monitor

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"clipsd/pkg/types"
)

// Sampler reports current host memory usage.
type Sampler interface {
	Sample() (types.MemoryReading, error)
}

// UsedPercent reports used memory as a percentage of total, rounded to one
// decimal so readings sitting on a threshold classify consistently.
func UsedPercent(usedMB, totalMB int) float64 {
	if totalMB <= 0 {
		return 0
	}
	return math.Round(float64(usedMB)/float64(totalMB)*1000) / 10
}

// ProcSampler reads memory usage from /proc/meminfo. When TotalOverrideMB is
// set, readings are expressed against that budget instead of physical RAM,
// which lets a daemon on a large host behave as if it had a small one.
type ProcSampler struct {
	// Path defaults to /proc/meminfo.
	Path string
	// TotalOverrideMB caps the reported total, 0 means physical.
	TotalOverrideMB int
}

func (s *ProcSampler) Sample() (types.MemoryReading, error) {
	path := s.Path
	if path == "" {
		path = "/proc/meminfo"
	}
	f, err := os.Open(path)
	if err != nil {
		return types.MemoryReading{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var totalKB, availKB uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 2 {
			continue
		}
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		switch parts[0] {
		case "MemTotal:":
			totalKB = v
		case "MemAvailable:":
			availKB = v
		}
	}
	if totalKB == 0 {
		if err := sc.Err(); err != nil {
			return types.MemoryReading{}, fmt.Errorf("read %s: %w", path, err)
		}
		return types.MemoryReading{}, fmt.Errorf("%s: MemTotal not found", path)
	}

	totalMB := int(totalKB / 1024)
	availMB := int(availKB / 1024)
	if s.TotalOverrideMB > 0 && s.TotalOverrideMB < totalMB {
		// Charge the shrunken budget with whatever the host is missing.
		usedMB := totalMB - availMB
		totalMB = s.TotalOverrideMB
		availMB = totalMB - usedMB
		if availMB < 0 {
			availMB = 0
		}
	}
	usedMB := totalMB - availMB
	return types.MemoryReading{
		TotalMB:     totalMB,
		UsedMB:      usedMB,
		AvailableMB: availMB,
		Percent:     UsedPercent(usedMB, totalMB),
		Timestamp:   time.Now().UTC(),
	}, nil
}

// StaticSampler returns a fixed reading; used in tests and dry runs.
type StaticSampler struct {
	Reading types.MemoryReading
}

func (s *StaticSampler) Sample() (types.MemoryReading, error) {
	r := s.Reading
	r.Timestamp = time.Now().UTC()
	return r, nil
}
