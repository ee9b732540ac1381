package app

import "math"

const (
	// Typical range of received cellular signal power
	defaultMinPower = -120.0 // dBm
	defaultMaxPower = -50.0  // dBm

	// Narrowest span the bounds are allowed to shrink to
	minimumSpan = 20 // dB

	// For 20 samples:
	// - 5% percentile  = 1 sample
	// - 95% percentile = 19th sample
	minimumSampleCount = 20
)

// PowerBounds represents the signal power range used for coloring
type PowerBounds struct {
	Min  float64 // 5th percentile power level in dBm, minus margin
	Max  float64 // 95th percentile power level in dBm, plus margin
	Mean float64 // Mean power level in dBm
}

func defaultPowerBounds() PowerBounds {
	return PowerBounds{
		Min:  defaultMinPower,
		Max:  defaultMaxPower,
		Mean: (defaultMinPower + defaultMaxPower) / 2,
	}
}

// Span returns the width of the bounds in dB
func (b PowerBounds) Span() float64 {
	return b.Max - b.Min
}

// Normalize maps power into [0, 1] relative to the bounds
func (b PowerBounds) Normalize(power float64) float64 {
	if b.Span() <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, (power-b.Min)/b.Span()))
}

// PowerHistogram maintains a histogram of power values with 1dB bins
type PowerHistogram struct {
	bins       map[int]uint32
	totalCount uint64
	minBin     int
	maxBin     int
}

func NewPowerHistogram() *PowerHistogram {
	return &PowerHistogram{
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

func binIndex(power float64) int {
	return int(math.Floor(power))
}

// scaleDown halves all bin counts, dropping the bins that become empty
func (h *PowerHistogram) scaleDown() {
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32

	for bin := range h.bins {
		h.bins[bin] /= 2
		if h.bins[bin] == 0 {
			delete(h.bins, bin)
			continue
		}

		h.minBin = min(h.minBin, bin)
		h.maxBin = max(h.maxBin, bin)
	}
	h.totalCount /= 2
}

// Update adds a power reading to the histogram, nil is ignored
func (h *PowerHistogram) Update(power *float64) {
	if power == nil {
		return
	}

	bin := binIndex(*power)
	if h.bins[bin] == math.MaxUint32 || h.totalCount == math.MaxUint64 {
		h.scaleDown()
	}

	h.bins[bin]++
	h.totalCount++

	h.minBin = min(h.minBin, bin)
	h.maxBin = max(h.maxBin, bin)
}

// Count returns the number of readings in the histogram
func (h *PowerHistogram) Count() uint64 {
	return h.totalCount
}

func (h *PowerHistogram) Clear() {
	h.bins = make(map[int]uint32)
	h.totalCount = 0
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32
}

// GetPercentileBounds returns power bounds based on the 5th and 95th
// percentiles. Defaults are returned until enough readings are collected.
func (h *PowerHistogram) GetPercentileBounds() PowerBounds {
	if h.totalCount < minimumSampleCount {
		return defaultPowerBounds()
	}

	target := h.totalCount * 5 / 100

	var count uint64
	var low, high int

	for bin := h.minBin; bin <= h.maxBin; bin++ {
		count += uint64(h.bins[bin])
		if count >= target {
			low = bin
			break
		}
	}

	count = 0
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target {
			high = bin
			break
		}
	}

	var sum float64
	for bin, n := range h.bins {
		sum += float64(bin) * float64(n)
	}
	mean := sum / float64(h.totalCount)

	if high-low < minimumSpan {
		center := (high + low) / 2
		low = center - minimumSpan/2
		high = center + minimumSpan/2
	}

	margin := (high - low) / 10
	return PowerBounds{
		Min:  float64(low - margin),
		Max:  float64(high + margin),
		Mean: mean,
	}
}

// SmoothBounds tracks the percentile bounds with exponential smoothing
type SmoothBounds struct {
	hist    *PowerHistogram
	alpha   float64 // Smoothing factor (0-1)
	current PowerBounds
}

func NewSmoothBounds(alpha float64) *SmoothBounds {
	return &SmoothBounds{
		hist:    NewPowerHistogram(),
		alpha:   alpha,
		current: defaultPowerBounds(),
	}
}

// Update adds a power reading and returns the smoothed bounds
func (s *SmoothBounds) Update(power *float64) PowerBounds {
	if power == nil {
		return s.current
	}

	s.hist.Update(power)
	if s.hist.Count() < minimumSampleCount {
		return s.current
	}

	b := s.hist.GetPercentileBounds()
	s.current.Min = s.current.Min*(1-s.alpha) + b.Min*s.alpha
	s.current.Max = s.current.Max*(1-s.alpha) + b.Max*s.alpha
	s.current.Mean = b.Mean

	return s.current
}

func (s *SmoothBounds) Current() PowerBounds {
	return s.current
}

func (s *SmoothBounds) Clear() {
	s.hist.Clear()
	s.current = defaultPowerBounds()
}
