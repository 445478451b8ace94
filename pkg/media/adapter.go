package media

import (
	"log/slog"
	"sync"
)

// STT target format: every speech analyzer downstream of the pipeline expects
// 16 kHz mono little-endian int16 PCM.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// Adapter converts AudioFrames to 16 kHz mono 16-bit PCM. Downmix happens
// before resampling so only a single mono channel is interpolated.
//
// Create one Adapter per consumer; it is not designed for shared use across
// goroutines. Malformed frames (odd byte count) yield nil and are logged once.
type Adapter struct {
	warnedCorrupt sync.Once
}

// NewAdapter creates an Adapter.
func NewAdapter() *Adapter { return &Adapter{} }

// ToPCM16 returns the frame's PCM normalised to 16 kHz mono int16.
// When the frame already matches the target format the original slice is
// returned without copying. Returns nil for frames with corrupt PCM data.
func (a *Adapter) ToPCM16(frame AudioFrame) []byte {
	if len(frame.Data)%2 != 0 {
		a.warnedCorrupt.Do(func() {
			slog.Warn("audio adapter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return nil
	}

	// Fast path: already 16 kHz mono.
	if frame.SampleRate == TargetSampleRate && frame.Channels <= TargetChannels {
		return frame.Data
	}

	pcm := frame.Data
	if frame.Channels > 1 {
		pcm = DownmixMono(pcm, frame.Channels)
	}
	if frame.SampleRate != TargetSampleRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, TargetSampleRate)
	}
	return pcm
}

// DownmixMono averages all channels per frame of interleaved int16 PCM into a
// single mono channel. Uses int32 accumulation to prevent overflow and clamps
// to the int16 range.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := sum / int32(channels)
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples.
// If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		sample := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}
