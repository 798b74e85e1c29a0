package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// noEvent fails if an event of kind arrives on ch within wait.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event %v: %+v", kind, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// drain discards everything currently queued on ch.
func drain(ch <-chan *Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func zerologNop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestHub(t *testing.T, st store.Store, opts Options) *Hub {
	t.Helper()

	hub := NewHub(st, opts, nil)
	t.Cleanup(hub.Close)
	return hub
}

func seedUser(t *testing.T, st store.Store, username string) *store.User {
	t.Helper()

	u := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return u
}

// faultyStore injects failures into selected store operations.
type faultyStore struct {
	store.Store
	saveErr    error
	summaryErr error
	panicOnGet bool
}

func (f *faultyStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.SaveMessage(ctx, msg)
}

func (f *faultyStore) UpdateLastMessage(ctx context.Context, msg *store.Message) error {
	if f.summaryErr != nil {
		return f.summaryErr
	}
	return f.Store.UpdateLastMessage(ctx, msg)
}

func (f *faultyStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if f.panicOnGet {
		panic("boom")
	}
	return f.Store.GetConversation(ctx, id)
}
