package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
)

// Reader replays raw PCM from an io.Reader as a capture source
type Reader struct {
	open func() (io.ReadCloser, error)
	opts Options
	// Realtime paces chunks at the capture interval instead of as fast as possible
	Realtime bool
}

// NewReader creates a source over r. The reader is consumed once.
func NewReader(r io.Reader, opts Options) *Reader {
	used := false
	return &Reader{
		opts: opts.withDefaults(),
		open: func() (io.ReadCloser, error) {
			if used {
				return nil, ErrDeviceBusy
			}
			used = true
			if rc, ok := r.(io.ReadCloser); ok {
				return rc, nil
			}
			return io.NopCloser(r), nil
		},
	}
}

// NewFileReader replays path, which may be raw PCM or a WAV file, in real time
func NewFileReader(path string, opts Options) *Reader {
	return &Reader{
		opts:     opts.withDefaults(),
		Realtime: true,
		open: func() (io.ReadCloser, error) {
			f, err := os.Open(path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
			case errors.Is(err, fs.ErrPermission):
				return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
			case err != nil:
				return nil, err
			}
			return f, nil
		},
	}
}

// Open starts replaying the stream
func (r *Reader) Open(ctx context.Context) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := r.open()
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(rc)
	inputRate := r.opts.Format.SampleRate
	if header, err := br.Peek(4); err == nil && strings.EqualFold(string(header), "RIFF") {
		format, err := audio.ReadWAVHeader(br)
		if err != nil {
			rc.Close()
			return nil, err
		}
		if format.Channels != 1 {
			rc.Close()
			return nil, fmt.Errorf("%w: only mono recordings can be replayed", audio.ErrNotWAV)
		}
		inputRate = format.SampleRate
	}

	s := newStream(r.opts, rc.Close)
	if r.Realtime {
		s.pace = r.opts.ChunkInterval
	}
	s.run(func(w io.Writer) error {
		if inputRate != r.opts.Format.SampleRate {
			w = &resampleWriter{w: w, inputRate: inputRate, outputRate: r.opts.Format.SampleRate}
		}
		_, err := io.Copy(w, br)
		return err
	})
	return s, nil
}
