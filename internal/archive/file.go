package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileArchive writes each session as <id>.yaml, <id>.txt and <id>.wav in Dir,
// plus <id>.diarized.txt when the recording was diarized
type FileArchive struct {
	Dir string
}

// NewFileArchive creates dir if needed
func NewFileArchive(dir string) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileArchive{Dir: dir}, nil
}

type fileMetadata struct {
	Record     `yaml:",inline"`
	Transcript string `yaml:"transcript_file"`
	Diarized   string `yaml:"diarized_file,omitempty"`
	Recording  string `yaml:"recording_file,omitempty"`
}

// Save writes the transcript, recording and metadata. Metadata is written
// last so a present .yaml means the session is complete.
func (a *FileArchive) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	meta := fileMetadata{
		Record:     r,
		Transcript: r.ID + ".txt",
	}
	if err := a.writeFile(meta.Transcript, []byte(r.LiveText)); err != nil {
		return err
	}
	if r.DiarizedText != "" {
		meta.Diarized = r.ID + ".diarized.txt"
		if err := a.writeFile(meta.Diarized, []byte(r.DiarizedText)); err != nil {
			return err
		}
	}
	if len(r.Recording) > 0 {
		meta.Recording = r.ID + ".wav"
		if err := a.writeFile(meta.Recording, r.Recording); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return a.writeFile(r.ID+".yaml", data)
}

// Load reads a session's metadata and transcript back
func (a *FileArchive) Load(id string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(a.Dir, id+".yaml"))
	if err != nil {
		return Record{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta fileMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Record{}, fmt.Errorf("parse metadata: %w", err)
	}

	r := meta.Record
	text, err := os.ReadFile(filepath.Join(a.Dir, meta.Transcript))
	if err != nil {
		return Record{}, fmt.Errorf("read transcript: %w", err)
	}
	r.LiveText = string(text)
	if meta.Diarized != "" {
		text, err := os.ReadFile(filepath.Join(a.Dir, meta.Diarized))
		if err != nil {
			return Record{}, fmt.Errorf("read diarized transcript: %w", err)
		}
		r.DiarizedText = string(text)
	}
	if meta.Recording != "" {
		if r.Recording, err = os.ReadFile(filepath.Join(a.Dir, meta.Recording)); err != nil {
			return Record{}, fmt.Errorf("read recording: %w", err)
		}
	}
	return r, nil
}

// writeFile writes via a temp file and rename
func (a *FileArchive) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(a.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(a.Dir, name)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
