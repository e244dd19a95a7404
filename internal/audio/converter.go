package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a stream does not start with a PCM RIFF header
var ErrNotWAV = errors.New("not a 16-bit PCM wav stream")

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(pcmData []byte) []int16 {
	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// Resample converts mono PCM between sample rates
func Resample(pcmData []byte, inputRate, outputRate int) []byte {
	if inputRate == outputRate || len(pcmData) < 2 {
		return pcmData
	}
	return SamplesToBytes(resample(BytesToSamples(pcmData), inputRate, outputRate))
}

// resample performs simple linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header
func EncodeWAV(pcmData []byte, format Format) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcmData))
	_ = WriteWAV(&buf, pcmData, format)
	return buf.Bytes()
}

// WriteWAV writes pcmData to w as a WAV file
func WriteWAV(w io.Writer, pcmData []byte, format Format) error {
	blockAlign := format.Channels * 2
	header := make([]byte, wavHeaderSize)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+len(pcmData)))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:], uint16(format.Channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(format.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:], 16)
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(len(pcmData)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := w.Write(pcmData); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// ReadWAVHeader consumes a canonical WAV header from r and returns its format
func ReadWAVHeader(r io.Reader) (Format, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Format{}, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" ||
		binary.LittleEndian.Uint16(header[20:]) != 1 || binary.LittleEndian.Uint16(header[34:]) != 16 {
		return Format{}, ErrNotWAV
	}
	return Format{
		SampleRate: int(binary.LittleEndian.Uint32(header[24:])),
		Channels:   int(binary.LittleEndian.Uint16(header[22:])),
	}, nil
}
