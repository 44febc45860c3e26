// Package wavecodec wraps raw 16kHz 16-bit mono PCM in WAV headers and reads
// the sample rate back out of synthesized audio, using go-audio/wav for parsing.
package wavecodec

import (
	"bytes"
	"encoding/binary"

	"github.com/go-audio/wav"
)

// headerLen is the size of a standard RIFF/WAVE/fmt /data header with no
// extra chunks, the layout the STT and TTS adapters both speak.
const headerLen = 44

// Wrap wraps raw 16-bit mono PCM bytes in a standard 44-byte WAV header.
func Wrap(pcm []byte, sampleRate int) []byte {
	dataLen := len(pcm)
	buf := make([]byte, headerLen+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[headerLen:], pcm)
	return buf
}

// SampleRate parses the fmt chunk of a WAV byte slice via go-audio/wav and
// returns its sample rate. Returns 0 if the header is missing or malformed;
// callers fall back to 16000.
func SampleRate(audioBytes []byte) int {
	dec := wav.NewDecoder(bytes.NewReader(audioBytes))
	if !dec.IsValidFile() {
		return 0
	}
	dec.ReadInfo()
	return int(dec.SampleRate)
}

// DurationMs computes playback duration from WAV byte length and sample
// rate, assuming 16-bit mono PCM: round((len(audio)-44) / (sampleRate*2) * 1000).
// Returns 0 if sampleRate is 0.
func DurationMs(audioBytes []byte, sampleRate int) int {
	if sampleRate == 0 {
		return 0
	}
	dataLen := len(audioBytes) - headerLen
	if dataLen < 0 {
		dataLen = 0
	}
	ms := float64(dataLen) / float64(sampleRate*2) * 1000
	return int(ms + 0.5)
}
