package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMSLevel computes the normalized RMS amplitude of PCM16LE bytes in [0.0, 1.0].
func RMSLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		f := float64(s) / 32768.0
		sum += f * f
	}
	level := math.Sqrt(sum / float64(n))
	if level > 1 {
		level = 1
	}
	return level
}

// Envelope splits PCM16LE mono audio into fixed windows and returns the RMS
// level of each. Used to drive playback visualization from decoded audio.
func Envelope(pcm []byte, sampleRate int, window time.Duration) []float64 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	samplesPerWindow := int(float64(sampleRate) * window.Seconds())
	if samplesPerWindow < 1 {
		samplesPerWindow = 1
	}
	bytesPerWindow := samplesPerWindow * 2

	var out []float64
	for off := 0; off < len(pcm); off += bytesPerWindow {
		end := off + bytesPerWindow
		if end > len(pcm) {
			end = len(pcm)
		}
		if end-off < 2 {
			break
		}
		out = append(out, RMSLevel(pcm[off:end]))
	}
	return out
}

// SinePCM16LE generates a mono sine tone as PCM16LE bytes. amplitude is in
// [0.0, 1.0].
func SinePCM16LE(freq float64, d time.Duration, sampleRate int, amplitude float64) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	samples := int(float64(sampleRate) * d.Seconds())
	if samples <= 0 {
		return nil
	}
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		s := int16(v * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(s))
	}
	return pcm
}
