package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"

	"layeh.com/gopus"

	"github.com/GGroff15/vigia/pkg/media"
)

// Binary ingest framing: every binary websocket message starts with a one
// byte tag followed by the tag-specific payload.
//
//	0x01  video frame: JPEG image
//	0x02  audio frame: uint32 BE sample rate, uint8 channels, s16le PCM
//	0x03  audio frame: one Opus packet (48 kHz stereo, 20 ms)
const (
	frameTagVideoJPEG = 0x01
	frameTagAudioPCM  = 0x02
	frameTagAudioOpus = 0x03
)

// Opus ingest matches the WebRTC voice defaults: 48 kHz stereo at 20 ms.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms packet.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// pcmHeaderLen is the payload header of a 0x02 frame: sample rate + channels.
const pcmHeaderLen = 5

var errEmptyFrame = errors.New("api: empty frame")

// frameDecoder turns binary ingest messages into media frames. One decoder
// per connection: the Opus decoder is stateful across consecutive packets.
type frameDecoder struct {
	opus *gopus.Decoder
}

func newFrameDecoder() *frameDecoder { return &frameDecoder{} }

// decode parses one binary message. Exactly one of the returned frames is
// non-nil on success.
func (d *frameDecoder) decode(data []byte) (*media.VideoFrame, *media.AudioFrame, error) {
	if len(data) == 0 {
		return nil, nil, errEmptyFrame
	}

	switch data[0] {
	case frameTagVideoJPEG:
		vf, err := decodeJPEGFrame(data[1:])
		return vf, nil, err

	case frameTagAudioPCM:
		af, err := decodePCMFrame(data[1:])
		return nil, af, err

	case frameTagAudioOpus:
		af, err := d.decodeOpusFrame(data[1:])
		return nil, af, err

	default:
		return nil, nil, fmt.Errorf("api: unknown frame tag 0x%02x", data[0])
	}
}

// decodeJPEGFrame decompresses a JPEG payload into a packed BGR raster.
func decodeJPEGFrame(payload []byte) (*media.VideoFrame, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("api: decode jpeg: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	bgr := make([]byte, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			bgr[i] = byte(bl >> 8)
			bgr[i+1] = byte(g >> 8)
			bgr[i+2] = byte(r >> 8)
			i += 3
		}
	}

	return &media.VideoFrame{
		BGR:    bgr,
		Width:  w,
		Height: h,
	}, nil
}

// decodePCMFrame parses a raw PCM payload with its 5-byte header.
func decodePCMFrame(payload []byte) (*media.AudioFrame, error) {
	if len(payload) < pcmHeaderLen {
		return nil, fmt.Errorf("api: pcm frame too short: %d bytes", len(payload))
	}
	rate := int(binary.BigEndian.Uint32(payload))
	channels := int(payload[4])
	if rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("api: invalid pcm header: rate=%d channels=%d", rate, channels)
	}

	data := make([]byte, len(payload)-pcmHeaderLen)
	copy(data, payload[pcmHeaderLen:])

	return &media.AudioFrame{
		Data:       data,
		SampleRate: rate,
		Channels:   channels,
	}, nil
}

// decodeOpusFrame decompresses one Opus packet into interleaved s16le PCM.
func (d *frameDecoder) decodeOpusFrame(payload []byte) (*media.AudioFrame, error) {
	if d.opus == nil {
		dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
		if err != nil {
			return nil, fmt.Errorf("api: create opus decoder: %w", err)
		}
		d.opus = dec
	}

	pcm, err := d.opus.Decode(payload, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("api: opus decode: %w", err)
	}

	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}

	return &media.AudioFrame{
		Data:       data,
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}, nil
}
