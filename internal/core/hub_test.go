package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubDirectMessageEchoAndAck(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	a := hub.Connect(alice.ID, "alice")
	b := hub.Connect(bob.ID, "bob")

	err := hub.Handle(context.Background(), a, &Command{
		Kind:    CommandSendMessage,
		Ref:     "r1",
		Target:  Target{ReceiverID: bob.ID},
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	got := mustEvent(t, b.Events, EventMessage)
	if got.Message.Content != "hello" || got.Message.SenderID != alice.ID || got.Message.SenderName != "alice" {
		t.Fatalf("unexpected message event: %+v", got.Message)
	}
	if got.Message.ReceiverID != bob.ID || got.Message.GroupID != "" {
		t.Fatalf("unexpected addressing: %+v", got.Message)
	}

	echo := mustEvent(t, a.Events, EventMessage)
	if echo.Message.ID != got.Message.ID || echo.Message.ID == "" {
		t.Fatalf("echo id %q does not match delivered id %q", echo.Message.ID, got.Message.ID)
	}

	ack := mustEvent(t, a.Events, EventAck)
	if ack.Ref != "r1" || ack.Message == nil || ack.Message.ID != got.Message.ID {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	noEvent(t, b.Events, EventAck, 50*time.Millisecond)
}

func TestHubDirectMessageToOfflineUserPersists(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	u1 := seedUser(t, st, "u1")
	u2 := seedUser(t, st, "u2")
	ctx := context.Background()

	a := hub.Connect(u1.ID, "u1")
	res, err := hub.SendMessage(ctx, a, Target{ReceiverID: u2.ID}, "hi")
	req.NoError(err)
	req.Equal(1, res.Delivered, "only the sender's echo is delivered")

	convs, err := hub.Conversations(ctx, u1.ID)
	req.NoError(err)
	req.Len(convs, 1)
	req.False(convs[0].IsGroup)
	req.ElementsMatch([]string{u1.ID, u2.ID}, convs[0].ParticipantIDs)
	req.Equal("hi", convs[0].LastMessage)

	hub.Connect(u2.ID, "u2")
	msgs, err := hub.Messages(ctx, u2.ID, convs[0].ID, 0)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal("hi", msgs[0].Content)
	req.Equal(u1.ID, msgs[0].SenderID)
}

func TestHubEmptyContentRejected(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{MaxContentLength: 5})
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	a := hub.Connect(alice.ID, "alice")
	b := hub.Connect(bob.ID, "bob")

	for _, content := range []string{"", "   \n\t", "toolong"} {
		err := hub.Handle(context.Background(), a, &Command{
			Kind:    CommandSendMessage,
			Ref:     "bad",
			Target:  Target{ReceiverID: bob.ID},
			Content: content,
		})
		req.ErrorIs(err, ErrInvalidContent)

		ev := mustEvent(t, a.Events, EventError)
		req.Equal(ErrCodeInvalidContent, ev.Error.Code)
		req.Equal("bad", ev.Ref)
	}

	noEvent(t, b.Events, EventMessage, 50*time.Millisecond)
	convs, err := hub.Conversations(context.Background(), alice.ID)
	req.NoError(err)
	req.Empty(convs, "a rejected send must not create a conversation")
}

func TestHubGroupFanOut(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")
	dave := seedUser(t, st, "dave")

	group, err := hub.CreateGroup(ctx, alice.ID, "  study  ", []string{bob.ID, carol.ID, bob.ID})
	req.NoError(err)
	req.Equal("study", group.Name)
	req.ElementsMatch([]string{alice.ID, bob.ID, carol.ID}, group.ParticipantIDs)

	a1 := hub.Connect(alice.ID, "alice")
	a2 := hub.Connect(alice.ID, "alice")
	b := hub.Connect(bob.ID, "bob")
	c := hub.Connect(carol.ID, "carol")
	d := hub.Connect(dave.ID, "dave")

	res, err := hub.SendMessage(ctx, a1, Target{GroupID: group.ID}, "hey all")
	req.NoError(err)
	req.Equal(4, res.Delivered)

	for _, conn := range []*Conn{a1, a2, b, c} {
		ev := mustEvent(t, conn.Events, EventMessage)
		req.Equal(res.Message.ID, ev.Message.ID)
		req.Equal(group.ID, ev.Message.GroupID)
		req.Empty(ev.Message.ReceiverID)
	}
	noEvent(t, d.Events, EventMessage, 50*time.Millisecond)
	noEvent(t, a1.Events, EventMessage, 20*time.Millisecond)
}

func TestHubGroupTargetErrors(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	mallory := seedUser(t, st, "mallory")

	group, err := hub.CreateGroup(ctx, alice.ID, "pair", []string{bob.ID})
	req.NoError(err)

	m := hub.Connect(mallory.ID, "mallory")
	_, err = hub.SendMessage(ctx, m, Target{GroupID: group.ID}, "let me in")
	req.ErrorIs(err, ErrNotFound)

	_, err = hub.SendMessage(ctx, m, Target{GroupID: "missing"}, "hello")
	req.ErrorIs(err, ErrNotFound)

	_, err = hub.SendMessage(ctx, m, Target{ReceiverID: "ghost"}, "hello")
	req.ErrorIs(err, ErrNotFound)

	_, err = hub.SendMessage(ctx, m, Target{ReceiverID: mallory.ID}, "hello me")
	req.ErrorIs(err, ErrBadRequest)

	_, err = hub.SendMessage(ctx, m, Target{}, "nowhere")
	req.ErrorIs(err, ErrBadRequest)

	_, err = hub.Messages(ctx, mallory.ID, group.ID, 0)
	req.ErrorIs(err, ErrNotAuthorized)

	_, err = hub.CreateGroup(ctx, alice.ID, "solo", []string{alice.ID})
	req.ErrorIs(err, ErrBadRequest)

	_, err = hub.CreateGroup(ctx, alice.ID, " ", []string{bob.ID})
	req.ErrorIs(err, ErrBadRequest)

	_, err = hub.CreateGroup(ctx, alice.ID, "ghosts", []string{"ghost"})
	req.ErrorIs(err, ErrNotFound)
}

func TestHubAddMembersReceiveLaterMessages(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")

	group, err := hub.CreateGroup(ctx, alice.ID, "team", []string{bob.ID})
	req.NoError(err)

	_, err = hub.AddMembers(ctx, carol.ID, group.ID, []string{carol.ID})
	req.ErrorIs(err, ErrNotFound)

	updated, err := hub.AddMembers(ctx, bob.ID, group.ID, []string{carol.ID, alice.ID})
	req.NoError(err)
	req.Equal([]string{alice.ID, bob.ID, carol.ID}, updated.ParticipantIDs)

	a := hub.Connect(alice.ID, "alice")
	c := hub.Connect(carol.ID, "carol")
	_, err = hub.SendMessage(ctx, a, Target{GroupID: group.ID}, "welcome")
	req.NoError(err)
	ev := mustEvent(t, c.Events, EventMessage)
	req.Equal("welcome", ev.Message.Content)
}

func TestHubConcurrentFirstMessagesCreateOneConversation(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{SendBuffer: 256})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	a := hub.Connect(alice.ID, "alice")
	b := hub.Connect(bob.ID, "bob")

	const sends = 20
	var wg sync.WaitGroup
	errs := make(chan error, sends)
	for i := range sends {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, bob.ID
			if i%2 == 1 {
				from, to = b, alice.ID
			}
			if _, err := hub.SendMessage(ctx, from, Target{ReceiverID: to}, fmt.Sprintf("m%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	convs, err := hub.Conversations(ctx, alice.ID)
	req.NoError(err)
	req.Len(convs, 1)

	msgs, err := hub.Messages(ctx, bob.ID, convs[0].ID, 0)
	req.NoError(err)
	req.Len(msgs, sends)
}

func TestHubDeliveryOrderMatchesAppendOrder(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{SendBuffer: 512})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	carol := seedUser(t, st, "carol")

	group, err := hub.CreateGroup(ctx, alice.ID, "race", []string{bob.ID, carol.ID})
	req.NoError(err)

	a := hub.Connect(alice.ID, "alice")
	c := hub.Connect(carol.ID, "carol")
	observer := hub.Connect(bob.ID, "bob")
	drain(observer.Events)

	const perSender = 25
	var wg sync.WaitGroup
	for _, sender := range []*Conn{a, c} {
		wg.Add(1)
		go func(conn *Conn) {
			defer wg.Done()
			for i := range perSender {
				if _, err := hub.SendMessage(ctx, conn, Target{GroupID: group.ID}, fmt.Sprintf("%s-%d", conn.Name, i)); err != nil {
					t.Errorf("send failed: %v", err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	var delivered []string
	for len(delivered) < 2*perSender {
		ev := mustEvent(t, observer.Events, EventMessage)
		delivered = append(delivered, ev.Message.ID)
	}

	stored, err := hub.Messages(ctx, bob.ID, group.ID, 0)
	req.NoError(err)
	req.Len(stored, 2*perSender)
	for i, m := range stored {
		req.Equal(m.ID, delivered[i], "delivery order diverges from storage order at %d", i)
		if i > 0 {
			req.False(m.CreatedAt.Before(stored[i-1].CreatedAt), "createdAt decreased at %d", i)
		}
	}
}

func TestHubCreatedAtNeverMovesBackwards(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hub.messages.now = func() time.Time { return clock }

	a := hub.Connect(alice.ID, "alice")
	first, err := hub.SendMessage(ctx, a, Target{ReceiverID: bob.ID}, "first")
	req.NoError(err)

	clock = clock.Add(-time.Hour)
	second, err := hub.SendMessage(ctx, a, Target{ReceiverID: bob.ID}, "second")
	req.NoError(err)

	req.True(second.Message.CreatedAt.Equal(first.Message.CreatedAt), "createdAt went from %v to %v", first.Message.CreatedAt, second.Message.CreatedAt)

	stored, err := hub.Messages(ctx, alice.ID, first.Message.ConversationID, 0)
	req.NoError(err)
	req.Len(stored, 2)
	req.Equal("first", stored[0].Content)
	req.Equal("second", stored[1].Content)
}

func TestHubStorageFailureDeliversNothing(t *testing.T) {
	req := require.New(t)
	base := newTestStore(t)
	st := &faultyStore{Store: base, saveErr: errors.New("disk full")}
	hub := newTestHub(t, st, Options{})
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	a := hub.Connect(alice.ID, "alice")
	b := hub.Connect(bob.ID, "bob")

	err := hub.Handle(context.Background(), a, &Command{
		Kind:    CommandSendMessage,
		Ref:     "r1",
		Target:  Target{ReceiverID: bob.ID},
		Content: "lost?",
	})
	req.ErrorIs(err, ErrStorage)

	ev := mustEvent(t, a.Events, EventError)
	req.Equal(ErrCodeStorage, ev.Error.Code)
	req.Equal("r1", ev.Ref)
	noEvent(t, a.Events, EventMessage, 30*time.Millisecond)
	noEvent(t, b.Events, EventMessage, 30*time.Millisecond)
}

func TestHubSummaryFailureKeepsMessage(t *testing.T) {
	req := require.New(t)
	base := newTestStore(t)
	st := &faultyStore{Store: base, summaryErr: errors.New("timeout")}
	hub := newTestHub(t, st, Options{})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	a := hub.Connect(alice.ID, "alice")
	res, err := hub.SendMessage(ctx, a, Target{ReceiverID: bob.ID}, "durable")
	req.NoError(err)

	msgs, err := hub.Messages(ctx, bob.ID, res.Message.ConversationID, 0)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(res.Message.ID, msgs[0].ID)
}

func TestHubSendSurvivesCanceledContext(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{})
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")
	a := hub.Connect(alice.ID, "alice")

	res, err := hub.SendMessage(context.Background(), a, Target{ReceiverID: bob.ID}, "first")
	req.NoError(err)

	// Once the conversation exists, an append accepted on a canceled
	// connection context still completes.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	stored, err := hub.messages.Append(canceled, res.Message.ConversationID, alice.ID, "second")
	req.NoError(err)

	msgs, err := hub.Messages(context.Background(), alice.ID, res.Message.ConversationID, 0)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(stored.ID, msgs[1].ID)
}

func TestHubRecoversHandlerPanic(t *testing.T) {
	base := newTestStore(t)
	st := &faultyStore{Store: base, panicOnGet: true}
	hub := newTestHub(t, st, Options{})
	alice := seedUser(t, st, "alice")
	a := hub.Connect(alice.ID, "alice")

	err := hub.Handle(context.Background(), a, &Command{
		Kind:    CommandSendMessage,
		Ref:     "p",
		Target:  Target{GroupID: "any"},
		Content: "boom",
	})
	if err == nil {
		t.Fatal("expected an error from a panicking handler")
	}

	ev := mustEvent(t, a.Events, EventError)
	if ev.Error.Code != ErrCodeInternal || ev.Ref != "p" {
		t.Fatalf("unexpected error event: %+v", ev.Error)
	}
}

func TestHubSlowConsumerIsKicked(t *testing.T) {
	st := newTestStore(t)
	hub := newTestHub(t, st, Options{SendBuffer: 2})
	ctx := context.Background()
	alice := seedUser(t, st, "alice")
	bob := seedUser(t, st, "bob")

	b := hub.Connect(bob.ID, "bob")
	a := hub.Connect(alice.ID, "alice")

	for i := range 5 {
		drain(a.Events)
		if _, err := hub.SendMessage(ctx, a, Target{ReceiverID: bob.ID}, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("slow consumer was not disconnected")
	}
	if !b.Overflowed() {
		t.Fatal("expected overflow flag on kicked connection")
	}
}
