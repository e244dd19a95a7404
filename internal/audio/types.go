package audio

import "time"

// Format describes 16-bit little-endian linear PCM
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is 16 kHz mono, the rate the transcription service expects
var DefaultFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the byte rate of the format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// ChunkSize returns the byte length of interval worth of audio, aligned to
// whole sample frames
func (f Format) ChunkSize(interval time.Duration) int {
	frame := f.Channels * 2
	size := int(int64(f.BytesPerSecond()) * int64(interval) / int64(time.Second))
	size -= size % frame
	if size < frame {
		size = frame
	}
	return size
}

// Duration returns the playback length of n bytes
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Chunk is one fixed-duration slice of captured audio. Data is owned by the
// receiver once handed over.
type Chunk struct {
	Data       []byte
	Seq        uint64
	CapturedAt time.Time
	Level      float64 // RMS of the chunk's samples
	Voiced     bool    // Voice activity at the end of the chunk
}
