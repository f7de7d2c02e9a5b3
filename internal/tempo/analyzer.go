package tempo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
	"gonum.org/v1/gonum/floats"
)

const (
	// thresholds are scanned from maxThreshold down to minThreshold.
	maxThreshold  = 0.95
	minThreshold  = 0.30
	thresholdStep = 0.05

	// minPeaks is the number of peaks a threshold needs before it is used.
	minPeaks = 15
	// neighbours is how many following peaks each peak is paired with.
	neighbours = 10
	// maxPeaks bounds the history kept per threshold.
	maxPeaks = 256
	// maxCandidates is the length of an estimate list.
	maxCandidates = 5

	minBPM = 90
	maxBPM = 180

	lowpassFreq = 150
	lowpassQ    = 1

	// levelDecay is applied to the normalization level once per buffer.
	levelDecay = 0.9995
	// silenceLevel is the level under which no peaks are detected.
	silenceLevel = 1e-4
)

var numThresholds = int(math.Round((maxThreshold-minThreshold)/thresholdStep)) + 1

func thresholdAt(i int) float64 {
	return math.Round((maxThreshold-float64(i)*thresholdStep)*100) / 100
}

// AnalyzerConfig is the configuration for an Analyzer.
type AnalyzerConfig struct {
	// SampleRate is the sample rate of the ingested buffers.
	SampleRate float64
	// ComputeDelay is the amount of audio ingested before the first
	// non-empty estimate may be pushed.
	ComputeDelay time.Duration
	// PushInterval is the amount of audio between two estimate pushes.
	PushInterval time.Duration
	// StabilizationTime is how long the leading estimate must stay unchanged
	// before the stabilized callback fires.
	StabilizationTime time.Duration
	// ContinuousAnalysis enables the stabilized callback so that the peak
	// history can be cleared and the analysis can follow tempo changes.
	ContinuousAnalysis bool
}

// DefaultAnalyzerConfig returns the default configuration for the given
// sample rate.
func DefaultAnalyzerConfig(sampleRate float64) AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate:         sampleRate,
		ComputeDelay:       3 * time.Second,
		PushInterval:       time.Second,
		StabilizationTime:  3 * time.Second,
		ContinuousAnalysis: true,
	}
}

func (c AnalyzerConfig) samples(d time.Duration) int64 {
	return int64(d.Seconds() * c.SampleRate)
}

// Analyzer is a peak-interval tempo estimator. It lowpass filters the input,
// records peaks above a ladder of thresholds and votes on the tempo implied
// by the intervals between peaks. All timing is measured in ingested audio,
// not wall time.
type Analyzer struct {
	cfg AnalyzerConfig

	mu           sync.Mutex
	onEstimate   func([]Tempo)
	onStabilized func(float64)

	filter  *biquad.Section
	scratch []float64

	peaks     [][]int64 // per threshold, absolute sample positions
	skipUntil []int64   // per threshold
	level     float64

	pos      int64
	nextPush int64

	leading      float64
	leadingSince int64
}

var _ Estimator = (*Analyzer)(nil)

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = time.Second
	}

	return &Analyzer{
		cfg:       cfg,
		filter:    biquad.NewSection(design.Lowpass(lowpassFreq, lowpassQ, cfg.SampleRate)),
		peaks:     make([][]int64, numThresholds),
		skipUntil: make([]int64, numThresholds),
		nextPush:  cfg.samples(cfg.PushInterval),
	}
}

// OnEstimate implements Estimator.
func (a *Analyzer) OnEstimate(f func([]Tempo)) {
	a.mu.Lock()
	a.onEstimate = f
	a.mu.Unlock()
}

// OnStabilized implements Estimator.
func (a *Analyzer) OnStabilized(f func(threshold float64)) {
	a.mu.Lock()
	a.onStabilized = f
	a.mu.Unlock()
}

// ClearHistory implements Estimator.
func (a *Analyzer) ClearHistory(threshold float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.peaks {
		if thresholdAt(i) <= threshold {
			a.peaks[i] = a.peaks[i][:0]
		}
	}
}

type pendingEvents struct {
	estimates  []Tempo
	push       bool
	stabilized bool
	threshold  float64
}

// Ingest implements Estimator.
func (a *Analyzer) Ingest(buf []float64) {
	if len(buf) == 0 {
		return
	}

	a.mu.Lock()
	ev := a.ingest(buf)
	onEstimate := a.onEstimate
	onStabilized := a.onStabilized
	a.mu.Unlock()

	// Callbacks run unlocked so that they may call back into the analyzer.
	if ev.push && onEstimate != nil {
		onEstimate(ev.estimates)
	}
	if ev.stabilized && onStabilized != nil {
		onStabilized(ev.threshold)
	}
}

func (a *Analyzer) ingest(buf []float64) pendingEvents {
	if cap(a.scratch) < len(buf) {
		a.scratch = make([]float64, len(buf))
	}
	abs := a.scratch[:len(buf)]
	copy(abs, buf)

	a.filter.ProcessBlock(abs)
	for i, v := range abs {
		abs[i] = math.Abs(v)
	}

	a.level = max(a.level*levelDecay, floats.Max(abs))
	if a.level > silenceLevel {
		a.findPeaks(abs)
	}

	a.pos += int64(len(buf))

	var ev pendingEvents
	if a.pos < a.nextPush {
		return ev
	}
	a.nextPush += a.cfg.samples(a.cfg.PushInterval)

	ev.push = true
	if a.pos < a.cfg.samples(a.cfg.ComputeDelay) {
		return ev
	}

	ev.estimates, ev.threshold = a.compute()
	if len(ev.estimates) == 0 || !a.cfg.ContinuousAnalysis {
		return ev
	}

	if lead := ev.estimates[0].BPM; lead != a.leading {
		a.leading = lead
		a.leadingSince = a.pos
	} else if a.pos-a.leadingSince >= a.cfg.samples(a.cfg.StabilizationTime) {
		ev.stabilized = true
		a.leadingSince = a.pos
	}

	return ev
}

func (a *Analyzer) findPeaks(abs []float64) {
	skip := int64(a.cfg.SampleRate / 4)

	for t := range a.peaks {
		threshold := thresholdAt(t)
		for i, v := range abs {
			pos := a.pos + int64(i)
			if pos < a.skipUntil[t] || v/a.level <= threshold {
				continue
			}

			a.peaks[t] = append(a.peaks[t], pos)
			a.skipUntil[t] = pos + skip
		}

		if n := len(a.peaks[t]); n > maxPeaks {
			a.peaks[t] = append(a.peaks[t][:0], a.peaks[t][n-maxPeaks:]...)
		}
	}
}

// compute returns the candidates of the highest threshold that has enough
// peaks, along with that threshold.
func (a *Analyzer) compute() ([]Tempo, float64) {
	for t, peaks := range a.peaks {
		if len(peaks) >= minPeaks {
			return candidates(peaks, a.cfg.SampleRate), thresholdAt(t)
		}
	}
	return nil, 0
}

func candidates(peaks []int64, sampleRate float64) []Tempo {
	votes := make(map[float64]int)
	for i, p := range peaks {
		for j := 1; j <= neighbours && i+j < len(peaks); j++ {
			interval := peaks[i+j] - p
			if interval <= 0 {
				continue
			}
			bpm := foldBPM(60 * sampleRate / float64(interval))
			votes[math.Round(bpm)]++
		}
	}
	if len(votes) == 0 {
		return nil
	}

	tempos := make([]Tempo, 0, len(votes))
	counts := make([]float64, 0, len(votes))
	for bpm, count := range votes {
		tempos = append(tempos, Tempo{BPM: bpm, Count: count})
		counts = append(counts, float64(count))
	}

	total := floats.Sum(counts)
	for i := range tempos {
		tempos[i].Confidence = float64(tempos[i].Count) / total
	}

	sort.Slice(tempos, func(i, j int) bool {
		if tempos[i].Count != tempos[j].Count {
			return tempos[i].Count > tempos[j].Count
		}
		return tempos[i].BPM < tempos[j].BPM
	})

	if len(tempos) > maxCandidates {
		tempos = tempos[:maxCandidates]
	}
	return tempos
}

// foldBPM doubles or halves bpm into [minBPM, maxBPM].
func foldBPM(bpm float64) float64 {
	if bpm <= 0 || math.IsInf(bpm, 0) || math.IsNaN(bpm) {
		return bpm
	}
	for bpm < minBPM {
		bpm *= 2
	}
	for bpm > maxBPM {
		bpm /= 2
	}
	return bpm
}
