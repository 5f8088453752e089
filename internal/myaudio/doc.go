// Package myaudio binds the tone pipeline to real audio hardware through
// miniaudio (malgo) and reads and writes WAV files for offline analysis.
//
// CaptureSource implements tone.Source and PlaybackSink implements tone.Sink.
// Both use signed 16-bit little-endian mono PCM.
package myaudio
