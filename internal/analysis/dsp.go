package analysis

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/cueprep/cueprep/internal/constants"
)

// Frame sizes tuned per feature: short frames for onset detection, the
// shared window size for energy, long frames for chroma resolution.
const (
	onsetFrameSize = 1024
	keyFrameSize   = 4096
	keyHopSize     = 2048
)

func nextPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

// fft computes the discrete Fourier transform of x in place using the
// iterative Cooley-Tukey algorithm. len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	if n <= 1 {
		return
	}

	for i, j := 0, 0; i < n-1; i++ {
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
		m := n >> 1
		for j >= m && m > 0 {
			j -= m
			m >>= 1
		}
		j += m
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		wStep := complex(math.Cos(step), math.Sin(step))
		for i := 0; i < n; i += size {
			w := complex(1, 0)
			for k := 0; k < half; k++ {
				u := x[i+k]
				v := x[i+k+half] * w
				x[i+k] = u + v
				x[i+k+half] = u - v
				w *= wStep
			}
		}
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// frameSpectrum writes the magnitude spectrum of the windowed frame starting
// at start into mag. frame is scratch space of the FFT size; mag must hold
// fftSize/2+1 bins.
func frameSpectrum(samples []float32, start, frameSize int, window []float64, frame []complex128, mag []float64) {
	for k := range frame {
		frame[k] = 0
	}
	n := len(samples)
	for j := 0; j < frameSize && start+j < n; j++ {
		frame[j] = complex(float64(samples[start+j])*window[j], 0)
	}
	fft(frame)
	for j := range mag {
		mag[j] = cmplx.Abs(frame[j])
	}
}

// onsetEnvelope computes a spectral-flux onset strength curve, one value per
// hop. Only positive magnitude increases contribute.
func onsetEnvelope(samples []float32, frameSize, hopSize int) []float64 {
	numFrames := (len(samples) - frameSize) / hopSize
	if numFrames <= 0 {
		return nil
	}

	fftSize := nextPow2(frameSize)
	window := hannWindow(frameSize)
	frame := make([]complex128, fftSize)
	mag := make([]float64, fftSize/2+1)
	prev := make([]float64, fftSize/2+1)

	onset := make([]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		frameSpectrum(samples, i*hopSize, frameSize, window, frame, mag)
		flux := 0.0
		for j := range mag {
			if d := mag[j] - prev[j]; d > 0 {
				flux += d
			}
		}
		onset[i] = flux
		copy(prev, mag)
	}
	return onset
}

// estimateBPM picks the tempo by autocorrelating the onset envelope over the
// 60-200 BPM lag range. A gaussian weight centered on 120 BPM breaks octave
// ties; the result is folded into range and rounded to 0.1. Envelopes shorter
// than 100 frames return the 120 default.
func estimateBPM(onset []float64, sr, hopSize int) float64 {
	if len(onset) < 100 {
		return 120.0
	}

	minLag := sr * 60 / (int(constants.MaxBPM) * hopSize)
	maxLag := sr * 60 / (int(constants.MinBPM) * hopSize)
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}

	bestLag := minLag
	bestCorr := -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		count := 0
		for i := 0; i+lag < len(onset); i++ {
			corr += onset[i] * onset[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}

		lagBPM := 60.0 / (float64(lag) * float64(hopSize) / float64(sr))
		weight := math.Exp(-0.5 * math.Pow((lagBPM-120.0)/40.0, 2))
		weighted := corr * (0.8 + 0.2*weight)
		if weighted > bestCorr {
			bestCorr = weighted
			bestLag = lag
		}
	}

	period := float64(bestLag) * float64(hopSize) / float64(sr)
	if period <= 0 {
		return 120.0
	}
	bpm := 60.0 / period
	for bpm > constants.MaxBPM {
		bpm /= 2
	}
	for bpm < constants.MinBPM {
		bpm *= 2
	}
	return math.Round(bpm*10) / 10
}

// beatTimes lays a fixed beat grid over the track, phase-anchored on the
// strongest onset within the first five seconds. Times are in seconds,
// rounded to the millisecond, ascending.
func beatTimes(onset []float64, sr int, duration, bpm float64, hopSize int) []float64 {
	if bpm <= 0 {
		bpm = 120
	}
	period := 60.0 / bpm

	anchor := 0.0
	if len(onset) > 0 {
		search := int(5.0 * float64(sr) / float64(hopSize))
		if search > len(onset) {
			search = len(onset)
		}
		bestIdx := 0
		bestVal := 0.0
		for i := 0; i < search; i++ {
			if onset[i] > bestVal {
				bestVal = onset[i]
				bestIdx = i
			}
		}
		anchor = float64(bestIdx) * float64(hopSize) / float64(sr)
	}

	var beats []float64
	for t := anchor; t >= 0; t -= period {
		beats = append(beats, math.Round(t*1000)/1000)
	}
	for t := anchor + period; t < duration; t += period {
		beats = append(beats, math.Round(t*1000)/1000)
	}
	sort.Float64s(beats)
	return beats
}

func rmsFrames(samples []float32, frameSize, hopSize int) []float64 {
	numFrames := (len(samples) - frameSize) / hopSize
	if numFrames <= 0 {
		return []float64{0.5}
	}
	rms := make([]float64, numFrames)
	n := len(samples)
	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		sum := 0.0
		count := 0
		for j := 0; j < frameSize && start+j < n; j++ {
			v := float64(samples[start+j])
			sum += v * v
			count++
		}
		if count > 0 {
			rms[i] = math.Sqrt(sum / float64(count))
		}
	}
	return rms
}

// beatEnergies averages frame RMS over each beat interval and normalizes the
// curve to a 0..1 peak. Fewer than two beats yields a flat mid value.
func beatEnergies(samples []float32, sr int, beats []float64) []float64 {
	rms := rmsFrames(samples, constants.AnalysisWindowSize, constants.AnalysisHopSize)
	if len(beats) < 2 {
		return []float64{0.5}
	}

	framesPerSec := float64(sr) / float64(constants.AnalysisHopSize)
	energy := make([]float64, len(beats))
	for i, bt := range beats {
		from := int(bt * framesPerSec)
		var to int
		if i+1 < len(beats) {
			to = int(beats[i+1] * framesPerSec)
		} else {
			to = from + int(framesPerSec*0.5)
		}
		if from >= len(rms) {
			from = len(rms) - 1
		}
		if from < 0 {
			from = 0
		}
		if to > len(rms) {
			to = len(rms)
		}
		sum := 0.0
		count := 0
		for j := from; j < to; j++ {
			sum += rms[j]
			count++
		}
		if count > 0 {
			energy[i] = sum / float64(count)
		}
	}

	maxE := 0.0
	for _, e := range energy {
		if e > maxE {
			maxE = e
		}
	}
	if maxE > 1e-6 {
		for i := range energy {
			energy[i] /= maxE
		}
	}
	return energy
}

func loudnessDB(samples []float32) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	avg := sum / float64(len(samples)+1)
	return 20 * math.Log10(math.Sqrt(avg)+1e-6)
}

// Krumhansl-Schmuckler key profiles, indexed from the tonic.
var (
	noteNames    = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// detectKey folds the 65-4000 Hz spectrum into a 12-bin chroma vector and
// correlates it against the major and minor profiles in all twelve rotations.
// Returns the tonic note, "major" or "minor", and the winning correlation.
// Too-short input returns empty strings.
func detectKey(samples []float32, sr int) (string, string, float64) {
	numFrames := (len(samples) - keyFrameSize) / keyHopSize
	if numFrames <= 0 {
		return "", "", 0
	}

	fftSize := nextPow2(keyFrameSize)
	window := hannWindow(keyFrameSize)
	frame := make([]complex128, fftSize)
	mag := make([]float64, fftSize/2+1)

	var chroma [12]float64
	for i := 0; i < numFrames; i++ {
		frameSpectrum(samples, i*keyHopSize, keyFrameSize, window, frame, mag)
		for bin := 1; bin <= fftSize/2; bin++ {
			freq := float64(bin) * float64(sr) / float64(fftSize)
			if freq < 65 || freq > 4000 {
				continue
			}
			// Pitch class relative to middle C.
			semitones := 12 * math.Log2(freq/261.63)
			pc := ((int(math.Round(semitones)) % 12) + 12) % 12
			chroma[pc] += mag[bin]
		}
	}

	bestCorr := -999.0
	bestNote := "C"
	bestScale := "major"
	rolled := make([]float64, 12)
	for rot := 0; rot < 12; rot++ {
		for j := 0; j < 12; j++ {
			rolled[j] = chroma[(j+rot)%12]
		}
		if corr := pearson(rolled, majorProfile[:]); corr > bestCorr {
			bestCorr = corr
			bestNote = noteNames[rot]
			bestScale = "major"
		}
		if corr := pearson(rolled, minorProfile[:]); corr > bestCorr {
			bestCorr = corr
			bestNote = noteNames[rot]
			bestScale = "minor"
		}
	}
	return bestNote, bestScale, bestCorr
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var sumA, sumB, sumAB, sumA2, sumB2 float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
		sumAB += a[i] * b[i]
		sumA2 += a[i] * a[i]
		sumB2 += b[i] * b[i]
	}
	num := float64(n)*sumAB - sumA*sumB
	den := math.Sqrt((float64(n)*sumA2 - sumA*sumA) * (float64(n)*sumB2 - sumB*sumB))
	if den < 1e-12 {
		return 0
	}
	return num / den
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
