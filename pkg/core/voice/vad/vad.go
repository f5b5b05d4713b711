// Package vad classifies PCM audio fragments as speech or silence.
package vad

import (
	"context"
	"fmt"
	"math"
)

// Detector reports whether a 16-bit little-endian mono PCM fragment contains speech.
type Detector interface {
	DetectSpeech(ctx context.Context, pcm []byte) (bool, error)
}

// Result carries the detector verdict and the energy it was based on.
type Result struct {
	IsSpeech   bool
	Confidence float64
}

// DefaultThreshold is the normalized RMS level above which a fragment counts as speech.
const DefaultThreshold = 0.02

// Energy is an RMS-threshold detector. It needs no model and is safe for
// concurrent use.
type Energy struct {
	Threshold float64
}

// NewEnergy returns an energy detector; non-positive thresholds use DefaultThreshold.
func NewEnergy(threshold float64) *Energy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Energy{Threshold: threshold}
}

// DetectSpeech implements Detector.
func (e *Energy) DetectSpeech(ctx context.Context, pcm []byte) (bool, error) {
	res, err := e.Process(ctx, pcm)
	if err != nil {
		return false, err
	}
	return res.IsSpeech, nil
}

// Process classifies pcm and reports the RMS energy as confidence.
func (e *Energy) Process(ctx context.Context, pcm []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(pcm)%2 != 0 {
		return Result{}, fmt.Errorf("vad: odd pcm16 length %d", len(pcm))
	}
	rms := RMSEnergy(pcm)
	return Result{IsSpeech: rms >= e.Threshold, Confidence: rms}, nil
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to [0,1].
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}
