package call

import (
	"context"
	"errors"
	"testing"

	calllogmock "github.com/MrWong99/animetalk/internal/calllog/mock"
	"github.com/MrWong99/animetalk/pkg/audio"
	audiomock "github.com/MrWong99/animetalk/pkg/audio/mock"
	livemock "github.com/MrWong99/animetalk/pkg/provider/live/mock"
)

func TestManager(t *testing.T) {
	t.Parallel()
	log := &calllogmock.Store{}
	m := NewManager(Config{Upstream: &livemock.Provider{}, CallLog: log})
	dev := &audiomock.Platform{NewConnection: func() audio.Connection { return audiomock.NewConnection(16) }}

	a, err := m.Start(context.Background(), kratos, dev, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Start(context.Background(), kratos, dev, "b", nil)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "both connected", func() bool {
		sa, _ := a.State()
		sb, _ := b.State()
		return sa == StateConnected && sb == StateConnected
	})

	active := m.Active()
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	for _, info := range active {
		if info.CharacterID != "kratos" || info.State != "connected" {
			t.Errorf("info = %+v", info)
		}
	}
	if got, ok := m.Get(a.ID()); !ok || got != a {
		t.Error("Get did not return the started call")
	}

	a.Hangup()
	waitFor(t, "a removed", func() bool { return len(m.Active()) == 1 })

	m.HangupAll()
	if len(m.Active()) != 0 {
		t.Errorf("active after HangupAll = %d", len(m.Active()))
	}
	entries, _ := log.List(context.Background())
	if len(entries) != 2 {
		t.Errorf("call log entries = %d, want 2", len(entries))
	}
	if _, err := m.Start(context.Background(), kratos, dev, "c", nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start after HangupAll = %v, want ErrShuttingDown", err)
	}
}
