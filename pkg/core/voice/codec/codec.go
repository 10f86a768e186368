// Package codec converts between the telephony line encoding (G.711 mu-law,
// 8kHz mono) and 16-bit little-endian linear PCM.
//
// All conversion tables are built once at package initialisation and are
// read-only afterwards, so every function here is safe for concurrent use.
package codec

import (
	"encoding/binary"
	"math"
)

const (
	// LineSampleRate is the sample rate of the line encoding.
	LineSampleRate = 8000

	// FrameBytes is one 20ms frame of line audio.
	FrameBytes = LineSampleRate / 50

	mulawBias = 0x84
	mulawClip = 32635
)

var (
	encodeTable [65536]byte
	decodeTable [256]int16
)

// exponentTable maps the top byte of a biased magnitude to its segment.
var exponentTable = func() [256]byte {
	var t [256]byte
	for i := 1; i < 256; i++ {
		e := byte(0)
		for v := i >> 1; v > 0; v >>= 1 {
			e++
		}
		t[i] = e
	}
	return t
}()

func init() {
	for i := range encodeTable {
		encodeTable[i] = encodeMulaw(int16(uint16(i)))
	}
	for i := range decodeTable {
		decodeTable[i] = decodeMulaw(byte(i))
	}
}

func encodeMulaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias
	exponent := int(exponentTable[(s>>7)&0xFF])
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func decodeMulaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	value := (int(mantissa) << 3) + mulawBias
	value <<= uint(exponent)
	value -= mulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// LinearToMulaw encodes one PCM sample. Magnitudes above the mu-law range are clamped.
func LinearToMulaw(sample int16) byte {
	return encodeTable[uint16(sample)]
}

// MulawToLinear decodes one line byte.
func MulawToLinear(b byte) int16 {
	return decodeTable[b]
}

// Downsample resamples samples from srcRate to dstRate using linear
// interpolation. Matching rates return a copy of the input. The output holds
// floor(len(samples)/ratio) samples.
func Downsample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx > last {
			idx = last
		}
		next := idx + 1
		if next > last {
			next = last
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[next])
		out[i] = int16(math.Round(a + (b-a)*frac))
	}
	return out
}

// PCMToMulaw converts little-endian 16-bit PCM at srcRateHz into 8kHz line
// audio. A trailing odd byte is ignored.
func PCMToMulaw(pcm []byte, srcRateHz int) []byte {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	samples = Downsample(samples, srcRateHz, LineSampleRate)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToMulaw(s)
	}
	return out
}

// MulawToPCM converts line audio into little-endian 16-bit PCM at 8kHz.
func MulawToPCM(line []byte) []byte {
	out := make([]byte, len(line)*2)
	for i, b := range line {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(MulawToLinear(b)))
	}
	return out
}

// SplitFrames cuts buf into frameSize chunks. The last chunk may be shorter.
// The chunks alias buf.
func SplitFrames(buf []byte, frameSize int) [][]byte {
	if len(buf) == 0 {
		return nil
	}
	if frameSize <= 0 || frameSize >= len(buf) {
		return [][]byte{buf}
	}
	frames := make([][]byte, 0, (len(buf)+frameSize-1)/frameSize)
	for start := 0; start < len(buf); start += frameSize {
		end := start + frameSize
		if end > len(buf) {
			end = len(buf)
		}
		frames = append(frames, buf[start:end:end])
	}
	return frames
}

// DurationMS returns the playback length in milliseconds of n line bytes.
func DurationMS(n int) int {
	return n * 1000 / LineSampleRate
}
