package mongodb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

// newTestStore connects to the server named by WIRECHAT_TEST_MONGO_URI and
// uses a throwaway database.
func newTestStore(t *testing.T) *MongoStore {
	t.Helper()

	uri := os.Getenv("WIRECHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("WIRECHAT_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database := fmt.Sprintf("wirechat_test_%d", time.Now().UnixNano())
	s, err := New(ctx, uri, database)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.users.Database().Drop(ctx)
		_ = s.Close()
	})
	return s
}

func seedUser(t *testing.T, s *MongoStore, username string) *store.User {
	t.Helper()

	u := &store.User{
		ID:           utils.NewID(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return u
}

func TestUsers(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	seedUser(t, s, "alex")
	seedUser(t, s, "bob")

	err := s.CreateUser(ctx, &store.User{ID: utils.NewID(), Username: "alice", Email: "x@example.com"})
	req.ErrorIs(err, store.ErrConflict)

	got, err := s.GetUserByEmail(ctx, "alice@example.com")
	req.NoError(err)
	req.Equal(alice.ID, got.ID)

	_, err = s.GetUserByID(ctx, "missing")
	req.ErrorIs(err, store.ErrNotFound)

	found, err := s.SearchUsers(ctx, "al", alice.ID, 10)
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("alex", found[0].Username)

	found, err = s.SearchUsers(ctx, ".*", "", 10)
	req.NoError(err)
	req.Empty(found, "query is matched literally")
}

func TestFindOrCreateDirectIsIdempotentUnderConcurrency(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	const attempts = 16
	var wg sync.WaitGroup
	ids := make(chan string, attempts)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender, receiver := alice.ID, bob.ID
			if i%2 == 1 {
				sender, receiver = receiver, sender
			}
			conv, err := s.FindOrCreateDirect(ctx, &store.Conversation{
				ID:             utils.NewID(),
				DirectKey:      store.DirectKey(sender, receiver),
				ParticipantIDs: []string{sender, receiver},
			})
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			ids <- conv.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	unique := make(map[string]struct{})
	for id := range ids {
		unique[id] = struct{}{}
	}
	req.Len(unique, 1)

	convs, err := s.ListConversations(ctx, bob.ID)
	req.NoError(err)
	req.Len(convs, 1)
}

func TestMessagesOrderAndSummary(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")
	carol := seedUser(t, s, "carol")

	group := &store.Conversation{
		ID:             utils.NewID(),
		Name:           "g",
		IsGroup:        true,
		ParticipantIDs: []string{alice.ID, bob.ID},
	}
	req.NoError(s.CreateConversation(ctx, group))
	req.NoError(s.AddParticipants(ctx, group.ID, []string{bob.ID, carol.ID}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	for i := range 4 {
		msg := &store.Message{
			ID:             utils.NewID(),
			ConversationID: group.ID,
			SenderID:       alice.ID,
			Content:        fmt.Sprintf("m%d", i),
			CreatedAt:      at,
		}
		req.NoError(s.SaveMessage(ctx, msg))
		req.NoError(s.UpdateLastMessage(ctx, msg))
	}

	all, err := s.ListMessages(ctx, group.ID, 0)
	req.NoError(err)
	req.Len(all, 4)
	for i, m := range all {
		req.Equal(fmt.Sprintf("m%d", i), m.Content)
	}

	page, err := s.ListMessages(ctx, group.ID, 2)
	req.NoError(err)
	req.Equal([]string{"m2", "m3"}, []string{page[0].Content, page[1].Content})

	got, err := s.GetConversation(ctx, group.ID)
	req.NoError(err)
	req.Equal("m3", got.LastMessage)
	req.Equal([]string{alice.ID, bob.ID, carol.ID}, got.ParticipantIDs)

	req.ErrorIs(s.AddParticipants(ctx, "missing", []string{carol.ID}), store.ErrNotFound)
}

func TestListConversationsOrdersByLatestActivity(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	alice := seedUser(t, s, "alice")
	bob := seedUser(t, s, "bob")

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	older := &store.Conversation{ID: utils.NewID(), Name: "older", IsGroup: true, ParticipantIDs: []string{alice.ID, bob.ID}, CreatedAt: base}
	req.NoError(s.CreateConversation(ctx, older))
	fresh := &store.Conversation{ID: utils.NewID(), Name: "fresh", IsGroup: true, ParticipantIDs: []string{alice.ID, bob.ID}, CreatedAt: base.Add(2 * time.Minute)}
	req.NoError(s.CreateConversation(ctx, fresh))

	// A message predating fresh's creation keeps older behind it.
	msg := &store.Message{ID: utils.NewID(), ConversationID: older.ID, SenderID: alice.ID, Content: "hi", CreatedAt: base.Add(time.Minute)}
	req.NoError(s.SaveMessage(ctx, msg))
	req.NoError(s.UpdateLastMessage(ctx, msg))

	convs, err := s.ListConversations(ctx, alice.ID)
	req.NoError(err)
	req.Len(convs, 2)
	req.Equal([]string{fresh.ID, older.ID}, []string{convs[0].ID, convs[1].ID})

	later := &store.Message{ID: utils.NewID(), ConversationID: older.ID, SenderID: bob.ID, Content: "again", CreatedAt: base.Add(3 * time.Minute)}
	req.NoError(s.SaveMessage(ctx, later))
	req.NoError(s.UpdateLastMessage(ctx, later))

	convs, err = s.ListConversations(ctx, alice.ID)
	req.NoError(err)
	req.Equal([]string{older.ID, fresh.ID}, []string{convs[0].ID, convs[1].ID})
}
