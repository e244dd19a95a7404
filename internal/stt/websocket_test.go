package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/transcribe-gateway/internal/audio"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

const (
	finalHello = `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there","words":[{"word":"hello","speaker":0,"start":0.1,"end":0.4},{"word":"there","punctuated_word":"there.","speaker":1,"start":0.5,"end":0.9}]}]}}`
	interimHel = `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`
	finalBye   = `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"bye"}]}}`
)

var upgrader = websocket.Upgrader{}

type fakeServer struct {
	*httptest.Server
	audioFrames atomic.Int32
	gotAuth     atomic.Value
	gotQuery    atomic.Value
}

// newFakeServer replays script on connect, counts audio frames, and answers
// CloseStream with onClose before closing normally
func newFakeServer(t *testing.T, script []string, onClose []string) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.gotAuth.Store(r.Header.Get("Authorization"))
		fs.gotQuery.Store(r.URL.RawQuery)
		if r.Header.Get("Authorization") == "Token bad-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range script {
			conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				fs.audioFrames.Add(1)
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				for _, msg := range onClose {
					conn.WriteMessage(websocket.TextMessage, []byte(msg))
				}
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) dialer(key string) *WSDialer {
	return &WSDialer{
		URL:     "ws" + strings.TrimPrefix(fs.URL, "http"),
		APIKey:  key,
		Options: Options{Model: "nova-2", SampleRate: 16000, Channels: 1, Diarize: true, InterimResults: true},
	}
}

func collectEvents(t *testing.T, ch Channel) []transcript.Event {
	t.Helper()
	var events []transcript.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch.Events():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-timeout:
			t.Fatal("timed out waiting for events to close")
		}
	}
}

func TestWSChannel_StreamsAndDrainsOnClose(t *testing.T) {
	fs := newFakeServer(t, []string{interimHel, finalHello}, []string{finalBye})

	ch, err := fs.dialer("good-key").Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := fs.gotAuth.Load(); got != "Token good-key" {
		t.Errorf("Expected Authorization header, got %v", got)
	}
	query := fs.gotQuery.Load().(string)
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "diarize=true", "model=nova-2"} {
		if !strings.Contains(query, want) {
			t.Errorf("Expected %q in query %q", want, query)
		}
	}

	for i := 0; i < 3; i++ {
		if err := ch.Send(audio.Chunk{Data: make([]byte, 320), Seq: uint64(i)}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	result := make(chan []transcript.Event, 1)
	go func() {
		var events []transcript.Event
		for e := range ch.Events() {
			events = append(events, e)
		}
		result <- events
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := ch.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := <-result
	if len(events) != 3 {
		t.Fatalf("Expected interim, final and drained final, got %d: %+v", len(events), events)
	}
	if events[0].IsFinal || events[0].Text != "hel" {
		t.Errorf("Unexpected interim event %+v", events[0])
	}
	if len(events[1].Words) != 2 || *events[1].Words[1].Speaker != 1 || events[1].Words[1].Text != "there." {
		t.Errorf("Unexpected labeled words %+v", events[1].Words)
	}
	if events[1].Words[0].StartMs != 100 {
		t.Errorf("Expected start 100ms, got %d", events[1].Words[0].StartMs)
	}
	if events[2].Text != "bye" {
		t.Errorf("Expected drained result after CloseStream, got %+v", events[2])
	}
	if ch.Err() != nil {
		t.Errorf("Expected clean close, got %v", ch.Err())
	}

	stats := ch.Stats()
	if stats.ChunksSent != 3 || stats.BytesSent != 960 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if got := fs.audioFrames.Load(); got != 3 {
		t.Errorf("Expected server to receive 3 frames, got %d", got)
	}

	if err := ch.Send(audio.Chunk{Data: []byte{1, 2}}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen after Close, got %v", err)
	}
	if ch.Stats().ChunksDropped != 1 {
		t.Errorf("Expected dropped chunk to be counted")
	}
}

func TestWSChannel_SendBeforeOpenIsDropped(t *testing.T) {
	ch := newWSChannel(nil, nil)

	for i := 0; i < 4; i++ {
		if err := ch.Send(audio.Chunk{Data: make([]byte, 10)}); !errors.Is(err, ErrNotOpen) {
			t.Fatalf("Expected ErrNotOpen, got %v", err)
		}
	}
	stats := ch.Stats()
	if stats.ChunksDropped != 4 || stats.ChunksSent != 0 {
		t.Errorf("Expected 4 dropped and 0 sent, got %+v", stats)
	}
	if ch.State() != StateConnecting {
		t.Errorf("Expected connecting state, got %s", ch.State())
	}
}

func TestWSDialer_AuthRejected(t *testing.T) {
	fs := newFakeServer(t, nil, nil)

	_, err := fs.dialer("bad-key").Connect(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth, got %v", err)
	}
}

func TestWSDialer_Unreachable(t *testing.T) {
	d := &WSDialer{URL: "ws://127.0.0.1:1/v1/listen", APIKey: "k", Options: Options{SampleRate: 16000}}

	_, err := d.Connect(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Expected ErrNetwork, got %v", err)
	}
}

func TestWSChannel_TransportErrorSurfacesOnce(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(finalBye))
		// Drop the TCP connection without a close frame
		conn.UnderlyingConn().Close()
	}))
	defer server.Close()

	d := &WSDialer{URL: "ws" + strings.TrimPrefix(server.URL, "http"), APIKey: "k", Options: Options{SampleRate: 16000}}
	ch, err := d.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	events := collectEvents(t, ch)
	if len(events) != 1 {
		t.Errorf("Expected the event received before the failure, got %d", len(events))
	}
	if !errors.Is(ch.Err(), ErrNetwork) {
		t.Errorf("Expected ErrNetwork, got %v", ch.Err())
	}

	first := ch.Err()
	ch.Close(context.Background())
	if ch.Err() != first {
		t.Error("Expected the terminal error to stay the same after Close")
	}
}

func TestWSChannel_ServerErrorFrame(t *testing.T) {
	fs := newFakeServer(t, []string{`{"type":"Error","description":"bad audio"}`}, nil)

	ch, err := fs.dialer("good-key").Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	collectEvents(t, ch)
	if !errors.Is(ch.Err(), ErrRemoteService) || !strings.Contains(ch.Err().Error(), "bad audio") {
		t.Errorf("Expected remote service error, got %v", ch.Err())
	}
}
