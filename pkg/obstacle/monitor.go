// Package obstacle turns range scans into directional obstruction flags.
package obstacle

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"
)

// NumSectors is the number of angular sectors a scan is split into.
const NumSectors = 5

// ErrShortScan is returned for scans with fewer samples than sectors.
var ErrShortScan = errors.New("scan has fewer samples than sectors")

// Sectors holds the clamped minimum distance of each sector, in meters.
// Scan order is right to left.
type Sectors struct {
	Right      float64
	FrontRight float64
	Front      float64
	FrontLeft  float64
	Left       float64
}

// Flags reports which directions are obstructed.
type Flags struct {
	Front bool
	Left  bool
	Right bool
}

// Any returns true if any direction is obstructed.
func (f Flags) Any() bool {
	return f.Front || f.Left || f.Right
}

// Snapshot is the state computed from one scan.
type Snapshot struct {
	Sectors   Sectors
	Flags     Flags
	Timestamp time.Time
}

// Config holds the monitor thresholds.
type Config struct {
	Threshold float64 // sector values below this are obstructed
	Ceiling   float64 // sector values are capped at this
}

// Monitor keeps the latest obstacle state. HandleScan and Flags may be
// called from different goroutines.
type Monitor struct {
	threshold float64
	ceiling   float64
	latest    atomic.Pointer[Snapshot]
}

// NewMonitor creates a monitor. Zero config values fall back to 1 m and 10 m.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1.0
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 10.0
	}
	m := &Monitor{
		threshold: cfg.Threshold,
		ceiling:   cfg.Ceiling,
	}
	m.latest.Store(&Snapshot{})
	return m
}

// HandleScan replaces the current state with one derived from ranges.
//
// Samples are not validated. NaN and Inf go through the same min and clamp
// arithmetic as real readings, so a malformed sample that compares as far
// can hide a real obstruction in its sector.
func (m *Monitor) HandleScan(ranges []float64) error {
	sectors, err := SplitSectors(ranges, m.ceiling)
	if err != nil {
		return err
	}
	m.latest.Store(&Snapshot{
		Sectors: sectors,
		Flags: Flags{
			Front: sectors.Front < m.threshold,
			Left:  sectors.Left < m.threshold,
			Right: sectors.Right < m.threshold,
		},
		Timestamp: time.Now(),
	})
	return nil
}

// Flags returns the latest obstruction flags.
func (m *Monitor) Flags() Flags {
	return m.latest.Load().Flags
}

// Snapshot returns the latest computed state.
func (m *Monitor) Snapshot() Snapshot {
	return *m.latest.Load()
}

// SplitSectors splits ranges into five contiguous sectors of equal size
// and returns min(min(sector), ceiling) for each. When len(ranges) is not a
// multiple of five the sector sizes differ by at most one sample.
func SplitSectors(ranges []float64, ceiling float64) (Sectors, error) {
	n := len(ranges)
	if n < NumSectors {
		return Sectors{}, fmt.Errorf("%w: got %d", ErrShortScan, n)
	}

	var mins [NumSectors]float64
	for k := range mins {
		lo := k * n / NumSectors
		hi := (k + 1) * n / NumSectors
		mins[k] = math.Min(floats.Min(ranges[lo:hi]), ceiling)
	}

	return Sectors{
		Right:      mins[0],
		FrontRight: mins[1],
		Front:      mins[2],
		FrontLeft:  mins[3],
		Left:       mins[4],
	}, nil
}
