package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	chatsCollection = "chats"
	usersCollection = "users"
)

type chatDocument struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	UserID    string        `bson:"userId"`
	Name      string        `bson:"name"`
	Messages  []Message     `bson:"messages"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

func (d chatDocument) toChat() Chat {
	messages := d.Messages
	if messages == nil {
		messages = []Message{}
	}
	return Chat{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Name:      d.Name,
		Messages:  messages,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type userDocument struct {
	IdentityID string    `bson:"identityId"`
	Email      string    `bson:"email"`
	FirstName  string    `bson:"firstName,omitempty"`
	LastName   string    `bson:"lastName,omitempty"`
	ImageURL   string    `bson:"imageUrl,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

type mongoHandle struct {
	client *mongo.Client
	chats  *mongo.Collection
	users  *mongo.Collection
}

// MongoStore is the document-store backend. The client is created on first
// use and shared by every request in the process.
type MongoStore struct {
	conn *lazyConn[*mongoHandle]
	now  func() time.Time
}

func NewMongoStore(uri, databaseName string) *MongoStore {
	s := &MongoStore{now: time.Now}
	s.conn = newLazyConn(func(ctx context.Context) (*mongoHandle, error) {
		return connectMongo(ctx, uri, databaseName)
	})
	return s
}

func connectMongo(ctx context.Context, uri, databaseName string) (*mongoHandle, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("create mongo client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(databaseName)
	h := &mongoHandle{
		client: client,
		chats:  db.Collection(chatsCollection),
		users:  db.Collection(usersCollection),
	}

	_, err = h.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "identityId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create users index: %w", err)
	}
	_, err = h.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "updatedAt", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create chats index: %w", err)
	}
	return h, nil
}

func (s *MongoStore) handle(ctx context.Context) (*mongoHandle, error) {
	h, err := s.conn.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return h, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	return h.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	if h, ok := s.conn.reset(); ok {
		return h.client.Disconnect(ctx)
	}
	return nil
}

// chatFilter scopes a lookup to one chat of one user. A malformed id can
// never match, so it reports ErrNotFound like a foreign id would.
func chatFilter(chatID, userID string) (bson.D, error) {
	oid, err := bson.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, ErrNotFound
	}
	return bson.D{{Key: "_id", Value: oid}, {Key: "userId", Value: userID}}, nil
}

func (s *MongoStore) FindChatsByUser(ctx context.Context, userID string) ([]Chat, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cursor, err := h.chats.Find(ctx, bson.D{{Key: "userId", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find chats: %w", err)
	}

	var docs []chatDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}

	chats := make([]Chat, 0, len(docs))
	for _, d := range docs {
		chats = append(chats, d.toChat())
	}
	return chats, nil
}

func (s *MongoStore) FindChatByIDForUser(ctx context.Context, chatID, userID string) (*Chat, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := chatFilter(chatID, userID)
	if err != nil {
		return nil, err
	}

	var doc chatDocument
	if err := h.chats.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find chat: %w", err)
	}
	chat := doc.toChat()
	return &chat, nil
}

func (s *MongoStore) CreateChat(ctx context.Context, userID, name string, messages []Message) (*Chat, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	if messages == nil {
		messages = []Message{}
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	doc := chatDocument{
		ID:        bson.NewObjectID(),
		UserID:    userID,
		Name:      name,
		Messages:  messages,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := h.chats.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	chat := doc.toChat()
	return &chat, nil
}

// AppendMessages sets updatedAt to the current time. Two appends within the
// same millisecond may store equal values; BSON dates have no finer
// resolution.
func (s *MongoStore) AppendMessages(ctx context.Context, chatID, userID string, messages []Message) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	filter, err := chatFilter(chatID, userID)
	if err != nil {
		return err
	}

	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "messages", Value: bson.D{{Key: "$each", Value: messages}}}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: s.now().UTC()}}},
	}
	res, err := h.chats.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) RenameChat(ctx context.Context, chatID, userID, name string) (*Chat, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	filter, err := chatFilter(chatID, userID)
	if err != nil {
		return nil, err
	}

	update := bson.D{{Key: "$set", Value: bson.D{{Key: "name", Value: name}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc chatDocument
	if err := h.chats.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rename chat: %w", err)
	}
	chat := doc.toChat()
	return &chat, nil
}

func (s *MongoStore) DeleteChat(ctx context.Context, chatID, userID string) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	filter, err := chatFilter(chatID, userID)
	if err != nil {
		return err
	}

	res, err := h.chats.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user User) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "email", Value: user.Email},
			{Key: "firstName", Value: user.FirstName},
			{Key: "lastName", Value: user.LastName},
			{Key: "imageUrl", Value: user.ImageURL},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: now}}},
	}
	_, err = h.users.UpdateOne(ctx,
		bson.D{{Key: "identityId", Value: user.IdentityID}},
		update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteUser(ctx context.Context, identityID string) error {
	h, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err := h.users.DeleteOne(ctx, bson.D{{Key: "identityId", Value: identityID}}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *MongoStore) FindUser(ctx context.Context, identityID string) (*User, error) {
	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	var doc userDocument
	if err := h.users.FindOne(ctx, bson.D{{Key: "identityId", Value: identityID}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &User{
		IdentityID: doc.IdentityID,
		Email:      doc.Email,
		FirstName:  doc.FirstName,
		LastName:   doc.LastName,
		ImageURL:   doc.ImageURL,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}, nil
}
