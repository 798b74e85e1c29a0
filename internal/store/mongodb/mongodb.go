package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// MongoStore implements store.Store on MongoDB.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	messages      *mongo.Collection
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

type conversationDoc struct {
	ID                  string     `bson:"_id"`
	Name                string     `bson:"name"`
	IsGroup             bool       `bson:"is_group"`
	DirectKey           string     `bson:"direct_key,omitempty"`
	Participants        []string   `bson:"participants"`
	LastMessage         string     `bson:"last_message,omitempty"`
	LastMessageSenderID string     `bson:"last_message_sender_id,omitempty"`
	LastMessageAt       *time.Time `bson:"last_message_at,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:        client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	// Sparse so that group conversations (no direct_key) do not collide.
	if _, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "direct_key", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "participants", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}

	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==== UserStore implementation ====

// CreateUser inserts a new user.
func (s *MongoStore) CreateUser(ctx context.Context, user *store.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.users.InsertOne(ctx, userDoc{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*store.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toUser(), nil
}

// GetUserByID retrieves a user by ID.
func (s *MongoStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

// GetUserByEmail retrieves a user by email.
func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

// GetUserByUsername retrieves a user by username.
func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

// SearchUsers matches username or email case-insensitively.
func (s *MongoStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*store.User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{
		"_id": bson.M{"$ne": excludeID},
		"$or": bson.A{
			bson.M{"username": pattern},
			bson.M{"email": pattern},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "username", Value: 1}}).SetLimit(int64(limit))
	cur, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}

	users := make([]*store.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser())
	}
	return users, nil
}

// ==== ConversationStore implementation ====

// CreateConversation inserts a conversation document.
func (s *MongoStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if _, err := s.conversations.InsertOne(ctx, fromConversation(conv)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert conversation: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// FindOrCreateDirect upserts on direct_key. Two concurrent upserts may both miss
// and race on the unique index; the loser re-reads the winner's document.
func (s *MongoStore) FindOrCreateDirect(ctx context.Context, conv *store.Conversation) (*store.Conversation, error) {
	if conv.DirectKey == "" {
		return nil, fmt.Errorf("find or create direct: empty direct key")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	filter := bson.M{"direct_key": conv.DirectKey}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          conv.ID,
		"name":         conv.Name,
		"is_group":     false,
		"participants": conv.ParticipantIDs,
		"created_at":   conv.CreatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc conversationDoc
	err := s.conversations.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("upsert direct conversation: %w", err)
		}
		if err := s.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
			return nil, fmt.Errorf("find direct conversation: %w", err)
		}
	}
	return doc.toConversation(), nil
}

// GetConversation retrieves a conversation by ID.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return doc.toConversation(), nil
}

// ListConversations lists conversations for a user, most recently active first.
// A conversation without messages counts as active at its creation time.
func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"participants": userID}}},
		{{Key: "$addFields", Value: bson.M{
			"active_at": bson.M{"$ifNull": bson.A{"$last_message_at", "$created_at"}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "active_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$project", Value: bson.M{"active_at": 0}}},
	}
	cur, err := s.conversations.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}

	convs := make([]*store.Conversation, 0, len(docs))
	for i := range docs {
		convs = append(convs, docs[i].toConversation())
	}
	return convs, nil
}

// AddParticipants appends members with $addToSet so membership only grows.
func (s *MongoStore) AddParticipants(ctx context.Context, conversationID string, userIDs []string) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$addToSet": bson.M{"participants": bson.M{"$each": userIDs}}},
	)
	if err != nil {
		return fmt.Errorf("add participants: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation: %w", store.ErrNotFound)
	}
	return nil
}

// UpdateLastMessage writes the conversation's last message summary.
func (s *MongoStore) UpdateLastMessage(ctx context.Context, msg *store.Message) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": msg.ConversationID},
		bson.M{"$set": bson.M{
			"last_message":           msg.Content,
			"last_message_sender_id": msg.SenderID,
			"last_message_at":        msg.CreatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation: %w", store.ErrNotFound)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message.
func (s *MongoStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	_, err := s.messages.InsertOne(ctx, messageDoc{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert message: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns messages in ascending order. Message ids are UUIDv7, so
// sorting by _id breaks created_at ties in insertion order.
func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	dir := 1
	opts := options.Find()
	if limit > 0 {
		dir = -1
		opts.SetLimit(int64(limit))
	}
	opts.SetSort(bson.D{{Key: "created_at", Value: dir}, {Key: "_id", Value: dir}})

	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	messages := make([]*store.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, &store.Message{
			ID:             d.ID,
			ConversationID: d.ConversationID,
			SenderID:       d.SenderID,
			Content:        d.Content,
			CreatedAt:      d.CreatedAt.UTC(),
		})
	}
	if limit > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

func (d *userDoc) toUser() *store.User {
	return &store.User{
		ID:           d.ID,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

func fromConversation(c *store.Conversation) conversationDoc {
	return conversationDoc{
		ID:                  c.ID,
		Name:                c.Name,
		IsGroup:             c.IsGroup,
		DirectKey:           c.DirectKey,
		Participants:        c.ParticipantIDs,
		LastMessage:         c.LastMessage,
		LastMessageSenderID: c.LastMessageSenderID,
		LastMessageAt:       c.LastMessageAt,
		CreatedAt:           c.CreatedAt,
	}
}

func (d *conversationDoc) toConversation() *store.Conversation {
	conv := &store.Conversation{
		ID:                  d.ID,
		Name:                d.Name,
		IsGroup:             d.IsGroup,
		DirectKey:           d.DirectKey,
		ParticipantIDs:      d.Participants,
		LastMessage:         d.LastMessage,
		LastMessageSenderID: d.LastMessageSenderID,
		CreatedAt:           d.CreatedAt.UTC(),
	}
	if d.LastMessageAt != nil {
		t := d.LastMessageAt.UTC()
		conv.LastMessageAt = &t
	}
	return conv
}
