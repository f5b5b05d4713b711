// Package live turns a stream of inbound PCM fragments into candidate
// utterances.
//
// A TurnBuffer runs every fragment through the speech detector. Speech opens
// an utterance (seeded with a short pre-roll so word onsets survive), trailing
// silence or the maximum utterance length closes it, and the closed audio is
// transcribed. Speech detected while a question is being synthesized fires the
// barge-in hook so the caller can stop playback immediately.
//
//	fragment → VAD ─┬─ speech ──→ utterance ──(silence | max length)──→ STT → UtteranceEvent
//	                └─ silence ─→ pre-roll ring
//
// Detector and transcriber failures are logged and treated as "no speech".
package live
