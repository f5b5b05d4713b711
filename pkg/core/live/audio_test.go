package live

import (
	"bytes"
	"testing"
	"time"
)

func TestAudioConfig_DurationAndBytes(t *testing.T) {
	c := PCM16Mono(16000)
	if got := c.BytesPerSecond(); got != 32000 {
		t.Fatalf("BytesPerSecond=%d, want 32000", got)
	}
	if got := c.Duration(640); got != 20*time.Millisecond {
		t.Fatalf("Duration(640)=%v, want 20ms", got)
	}
	if got := c.BytesFor(20 * time.Millisecond); got != 640 {
		t.Fatalf("BytesFor(20ms)=%d, want 640", got)
	}
	if got := (AudioConfig{}).Duration(100); got != 0 {
		t.Fatalf("zero config duration=%v", got)
	}
}

func TestChunk(t *testing.T) {
	pcm := bytes.Repeat([]byte{1}, 10)
	chunks := Chunk(pcm, 4)
	if len(chunks) != 3 || len(chunks[2]) != 2 {
		t.Fatalf("chunks=%v", chunks)
	}
	if got := Chunk(pcm, 0); len(got) != 1 {
		t.Fatalf("Chunk(size=0)=%d chunks, want 1", len(got))
	}
	if got := Chunk(nil, 4); got != nil {
		t.Fatalf("Chunk(nil)=%v, want nil", got)
	}
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte{1, 2})
	if got := r.Read(); !bytes.Equal(got, []byte{1, 2}) {
		t.Fatalf("partial read=%v", got)
	}
	r.Write([]byte{3, 4, 5})
	if got := r.Read(); !bytes.Equal(got, []byte{2, 3, 4, 5}) {
		t.Fatalf("wrapped read=%v", got)
	}
	r.Write([]byte{6, 7, 8, 9, 10})
	if got := r.Read(); !bytes.Equal(got, []byte{7, 8, 9, 10}) {
		t.Fatalf("oversized write read=%v", got)
	}
	r.Clear()
	if r.Filled() != 0 || len(r.Read()) != 0 {
		t.Fatalf("clear did not empty buffer")
	}
	NewRingBuffer(0).Write([]byte{1})
}
