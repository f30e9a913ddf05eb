package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// WAVInfo describes the fmt and data chunks of a RIFF/WAVE file.
type WAVInfo struct {
	Format        int
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int
	DataSize      int
}

// Duration returns the playback length implied by the data chunk size.
func (w WAVInfo) Duration() time.Duration {
	frameBytes := w.Channels * w.BitsPerSample / 8
	if frameBytes <= 0 || w.SampleRate <= 0 {
		return 0
	}
	frames := w.DataSize / frameBytes
	return time.Duration(frames) * time.Second / time.Duration(w.SampleRate)
}

// ParseWAV walks the RIFF chunks of wav and returns the fmt parameters and
// the location of the data chunk. A data chunk whose declared size exceeds
// the buffer (as produced by streaming writers) is truncated to what is
// present.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: wav too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: wav missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: wav missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAVInfo{}, errors.New("audio: wav fmt chunk truncated")
			}
			f := wav[offset+8:]
			info.Format = int(binary.LittleEndian.Uint16(f[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			if rest := len(wav) - info.DataOffset; info.DataSize > rest || info.DataSize < 0 {
				info.DataSize = rest
			}
			return info, nil
		}

		// Chunks are word aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: wav missing data chunk")
}

// DecodeWAV parses wav and returns its samples downmixed to mono floats.
// 16-bit PCM and 32-bit IEEE float payloads are supported.
func DecodeWAV(wav []byte) (WAVInfo, []float32, error) {
	info, err := ParseWAV(wav)
	if err != nil {
		return WAVInfo{}, nil, err
	}
	data := wav[info.DataOffset : info.DataOffset+info.DataSize]

	var interleaved []float32
	switch {
	case info.Format == wavFormatPCM && info.BitsPerSample == 16:
		interleaved = PCM16ToFloat(data)
	case info.Format == wavFormatFloat && info.BitsPerSample == 32:
		interleaved = make([]float32, len(data)/4)
		for i := range interleaved {
			interleaved[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	default:
		return WAVInfo{}, nil, fmt.Errorf("audio: unsupported wav encoding (format %d, %d bits)", info.Format, info.BitsPerSample)
	}
	return info, Downmix(interleaved, info.Channels), nil
}

// EncodeWAV wraps little-endian int16 PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	buf := make([]byte, 44+len(pcm))
	putWAVHeader(buf, sampleRate, channels, uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// StreamingWAVHeader returns a 16-bit PCM header whose size fields are set to
// the maximum value, for responses whose length is unknown up front.
func StreamingWAVHeader(sampleRate, channels int) []byte {
	buf := make([]byte, 44)
	putWAVHeader(buf, sampleRate, channels, math.MaxUint32-36)
	return buf
}

func putWAVHeader(buf []byte, sampleRate, channels int, dataSize uint32) {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
}

// ProbeClip reads the WAV file at path and returns its clip description.
func ProbeClip(path string) (Clip, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: probe clip: %w", err)
	}
	info, err := ParseWAV(raw)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: probe clip %s: %w", path, err)
	}
	return Clip{
		Path:       path,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		Duration:   info.Duration(),
	}, nil
}

// LoadClip reads the WAV file behind clip and returns its mono samples at the
// file's native sample rate.
func LoadClip(clip Clip) ([]float32, int, error) {
	raw, err := os.ReadFile(clip.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: load clip: %w", err)
	}
	info, samples, err := DecodeWAV(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("audio: load clip %s: %w", clip.Path, err)
	}
	return samples, info.SampleRate, nil
}
