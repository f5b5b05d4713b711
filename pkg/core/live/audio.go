package live

import (
	"time"
)

// AudioConfig describes linear PCM.
type AudioConfig struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// PCM16Mono returns the 16-bit mono format at sampleRate.
func PCM16Mono(sampleRate int) AudioConfig {
	return AudioConfig{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the playback duration of n bytes.
func (c AudioConfig) Duration(n int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// BytesFor returns the byte count for d, rounded down to a whole frame.
func (c AudioConfig) BytesFor(d time.Duration) int {
	n := int(int64(c.BytesPerSecond()) * int64(d) / int64(time.Second))
	frame := c.Channels * (c.BitsPerSample / 8)
	if frame > 0 {
		n -= n % frame
	}
	return n
}

// Chunk splits pcm into pieces of at most size bytes without copying.
func Chunk(pcm []byte, size int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	if size <= 0 || size >= len(pcm) {
		return [][]byte{pcm}
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := min(start+size, len(pcm))
		out = append(out, pcm[start:end])
	}
	return out
}

// RingBuffer is a fixed-size circular buffer for audio data.
// It overwrites the oldest data when full. Not safe for concurrent use.
type RingBuffer struct {
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewRingBuffer creates a ring buffer of size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{data: make([]byte, size), size: size}
}

// Write adds data, overwriting old data if necessary.
func (r *RingBuffer) Write(data []byte) {
	if r.size == 0 {
		return
	}
	if len(data) >= r.size {
		copy(r.data, data[len(data)-r.size:])
		r.writePos = 0
		r.filled = r.size
		return
	}
	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % r.size
		if r.filled < r.size {
			r.filled++
		}
	}
}

// Read returns all data in chronological order.
func (r *RingBuffer) Read() []byte {
	if r.filled < r.size {
		result := make([]byte, r.filled)
		copy(result, r.data[:r.filled])
		return result
	}

	result := make([]byte, r.size)
	firstPart := r.size - r.writePos
	copy(result[:firstPart], r.data[r.writePos:])
	copy(result[firstPart:], r.data[:r.writePos])
	return result
}

// Clear resets the ring buffer.
func (r *RingBuffer) Clear() {
	r.writePos = 0
	r.filled = 0
}

// Filled returns how many bytes are held.
func (r *RingBuffer) Filled() int {
	return r.filled
}
