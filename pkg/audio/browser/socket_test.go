package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/animetalk/pkg/audio"
)

// pair starts a server-side Socket and returns it with a connected client.
func pair(t *testing.T) (*Socket, *websocket.Conn) {
	t.Helper()
	ready := make(chan *Socket, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s := NewSocket(conn)
		ready <- s
		_ = s.Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.CloseNow() })

	select {
	case s := <-ready:
		return s, client
	case <-time.After(5 * time.Second):
		t.Fatal("server socket not ready")
		return nil, nil
	}
}

func recvFrame(t *testing.T, ch <-chan audio.AudioFrame) audio.AudioFrame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
		return audio.AudioFrame{}
	}
}

func TestSocket_Audio(t *testing.T) {
	t.Parallel()
	s, client := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := s.Connect(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := client.Write(ctx, websocket.MessageBinary, []byte{1, 0, 2, 0}); err != nil {
		t.Fatal(err)
	}
	f := recvFrame(t, conn.InputStream())
	if f.SampleRate != InputSampleRate || f.Channels != 1 || len(f.Data) != 4 {
		t.Errorf("input frame = %+v", f)
	}

	conn.OutputStream() <- audio.AudioFrame{Data: []byte{9, 9, 9, 9}, SampleRate: 24000, Channels: 2}
	typ, data, err := client.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageBinary || len(data) != 4 || data[0] != 9 {
		t.Errorf("client got %v % x", typ, data)
	}
}

func TestSocket_CommandsAndEvents(t *testing.T) {
	t.Parallel()
	s, client := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = client.Write(ctx, websocket.MessageText, []byte(`not json`))
	_ = client.Write(ctx, websocket.MessageText, []byte(`{"type":"retry"}`))
	select {
	case cmd := <-s.Commands():
		if cmd.Type != CommandRetry {
			t.Errorf("command = %q, want retry", cmd.Type)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no command")
	}

	if err := s.SendEvent(ctx, map[string]string{"type": "state", "state": "connected"}); err != nil {
		t.Fatal(err)
	}
	typ, data, err := client.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageText || string(data) != `{"state":"connected","type":"state"}` {
		t.Errorf("client got %v %s", typ, data)
	}
}

func TestSocket_RebindKeepsSocket(t *testing.T) {
	t.Parallel()
	s, client := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, _ := s.Connect(ctx, "")
	if err := first.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-first.Done():
	default:
		t.Error("first binding not done after Disconnect")
	}
	if _, ok := <-first.InputStream(); ok {
		t.Error("first binding input still open")
	}
	if err := first.Disconnect(); err != nil {
		t.Errorf("second Disconnect = %v", err)
	}

	second, err := s.Connect(ctx, "")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	_ = client.Write(ctx, websocket.MessageBinary, []byte{5, 0})
	if f := recvFrame(t, second.InputStream()); f.Data[0] != 5 {
		t.Errorf("second binding got % x", f.Data)
	}
}

func TestSocket_ClientClose(t *testing.T) {
	t.Parallel()
	s, client := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _ := s.Connect(ctx, "")
	_ = client.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-conn.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("binding not done after client closed")
	}
	<-s.Done()
	if _, err := s.Connect(ctx, ""); !errors.Is(err, audio.ErrDeviceClosed) {
		t.Errorf("Connect after close = %v, want ErrDeviceClosed", err)
	}
}
