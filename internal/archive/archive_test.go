package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func sampleRecord() Record {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(5 * time.Minute)
	return Record{
		ID:           "sess-1",
		Status:       "stopped",
		StartedAt:    started,
		EndedAt:      &ended,
		LiveText:     "hello there\n",
		DiarizedText: "Speaker 0: hello\nSpeaker 1: there",
		Summary:      "A greeting.",
		SummaryStyle: "paragraph",
		Recording:    []byte("RIFF....WAVE"),
	}
}

func TestFileArchive_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	a, err := NewFileArchive(dir)
	if err != nil {
		t.Fatalf("NewFileArchive failed: %v", err)
	}

	rec := sampleRecord()
	if err := a.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, name := range []string{"sess-1.yaml", "sess-1.txt", "sess-1.diarized.txt", "sess-1.wav"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}

	got, err := a.Load("sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != rec.Status || got.Summary != rec.Summary || !got.StartedAt.Equal(rec.StartedAt) {
		t.Errorf("Metadata mismatch: %+v", got)
	}
	if got.DiarizedText != rec.DiarizedText {
		t.Errorf("Expected diarized transcript, got %q", got.DiarizedText)
	}
	if got.LiveText != rec.LiveText {
		t.Errorf("Expected live transcript kept alongside the diarized one, got %q", got.LiveText)
	}
	live, err := os.ReadFile(filepath.Join(dir, "sess-1.txt"))
	if err != nil || string(live) != rec.LiveText {
		t.Errorf("Expected live text on disk, got %q (%v)", live, err)
	}
	if !bytes.Equal(got.Recording, rec.Recording) {
		t.Error("Recording mismatch")
	}
}

func TestFileArchive_LiveOnlyWithoutRecording(t *testing.T) {
	a, err := NewFileArchive(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArchive failed: %v", err)
	}

	rec := Record{ID: "sess-2", Status: "failed", Error: "network", LiveText: "partial words\n"}
	if err := a.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Dir, "sess-2.wav")); !os.IsNotExist(err) {
		t.Errorf("Expected no wav file, got %v", err)
	}

	got, err := a.Load("sess-2")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.LiveText != rec.LiveText || got.DiarizedText != "" || got.Error != "network" {
		t.Errorf("Unexpected record %+v", got)
	}
}

func TestFileArchive_RejectsMissingID(t *testing.T) {
	a := &FileArchive{Dir: t.TempDir()}
	if err := a.Save(context.Background(), Record{}); err == nil {
		t.Error("Expected error for record without id")
	}
}

type fakeHashStore struct {
	key    string
	values map[string]interface{}
	ttl    time.Duration
	err    error
}

func (f *fakeHashStore) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.key = key
	if len(values) == 1 {
		if m, ok := values[0].(map[string]interface{}); ok {
			f.values = m
		}
	}
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(int64(len(f.values)))
	}
	return cmd
}

func (f *fakeHashStore) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.ttl = expiration
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func TestRedisArchive_Save(t *testing.T) {
	store := &fakeHashStore{}
	a := &RedisArchive{client: store, prefix: "transcribe:session:", ttl: time.Hour}

	if err := a.Save(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if store.key != "transcribe:session:sess-1" {
		t.Errorf("Unexpected key %q", store.key)
	}
	if store.values["diarized_text"] != "Speaker 0: hello\nSpeaker 1: there" || store.values["ended_at"] != "2026-03-01T10:05:00Z" {
		t.Errorf("Unexpected fields %v", store.values)
	}
	if store.ttl != time.Hour {
		t.Errorf("Expected ttl 1h, got %v", store.ttl)
	}
}

func TestRedisArchive_SaveError(t *testing.T) {
	store := &fakeHashStore{err: errors.New("connection refused")}
	a := &RedisArchive{client: store, prefix: "p:"}

	if err := a.Save(context.Background(), sampleRecord()); err == nil {
		t.Error("Expected HSET error to surface")
	}
	if store.ttl != 0 {
		t.Error("Expire should not run after a failed HSET")
	}
}
