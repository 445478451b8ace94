package media

import (
	"encoding/binary"
	"fmt"
	"os"
)

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container. No external dependencies are required; the 44-byte
// canonical PCM header is written directly.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)      // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// WriteTempWAV writes pcm to a temporary WAV file and returns its path.
// The caller owns the file and must remove it when done, whether or not the
// downstream consumer succeeded.
func WriteTempWAV(pcm []byte, sampleRate, channels int) (string, error) {
	f, err := os.CreateTemp("", "vigia-*.wav")
	if err != nil {
		return "", fmt.Errorf("media: create temp wav: %w", err)
	}
	path := f.Name()

	_, werr := f.Write(EncodeWAV(pcm, sampleRate, channels))
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return "", fmt.Errorf("media: write temp wav: %w", werr)
	}
	if cerr != nil {
		os.Remove(path)
		return "", fmt.Errorf("media: close temp wav: %w", cerr)
	}
	return path, nil
}
