package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// MongoStore keeps messages and the team/user directory in MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type messageDoc struct {
	ID          string     `bson:"_id"`
	Kind        string     `bson:"kind"`
	TeamID      *string    `bson:"team_id,omitempty"`
	RecipientID *string    `bson:"recipient_id,omitempty"`
	SenderID    string     `bson:"sender_id"`
	Ciphertext  string     `bson:"ciphertext"`
	Attachment  string     `bson:"file,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	ReadBy      []string   `bson:"read_by"`
	Edited      bool       `bson:"edited"`
	EditedAt    *time.Time `bson:"edited_at,omitempty"`
}

type teamDoc struct {
	ID        string   `bson:"_id"`
	Name      string   `bson:"name"`
	ManagerID string   `bson:"manager_id"`
	MemberIDs []string `bson:"member_ids"`
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore connects to MongoDB and makes sure the indexes exist.
func NewMongoStore(ctx context.Context, mongoURL, dbName string) (*MongoStore, error) {
	if dbName == "" {
		dbName = "teamchat"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.messages().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "team_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create message indexes: %w", err)
	}
	_, err = s.teams().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "member_ids", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create team indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) messages() *mongo.Collection { return s.db.Collection("messages") }
func (s *MongoStore) teams() *mongo.Collection    { return s.db.Collection("teams") }
func (s *MongoStore) users() *mongo.Collection    { return s.db.Collection("users") }

// Close disconnects the client.
func (s *MongoStore) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.client.Disconnect(ctx)
}

// Ping checks the MongoDB connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func mongoConversation(conv models.ConversationRef) bson.M {
	if conv.Kind == models.KindTeam {
		return bson.M{"kind": "team", "team_id": conv.TeamID.String()}
	}
	a, b := conv.PeerA.String(), conv.PeerB.String()
	return bson.M{
		"kind": "direct",
		"$or": bson.A{
			bson.M{"sender_id": a, "recipient_id": b},
			bson.M{"sender_id": b, "recipient_id": a},
		},
	}
}

func mongoUnread(reader uuid.UUID) bson.M {
	r := reader.String()
	return bson.M{"sender_id": bson.M{"$ne": r}, "read_by": bson.M{"$ne": r}}
}

func optionalString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func optionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func toMessageDoc(m *models.Message) messageDoc {
	readBy := make([]string, len(m.ReadBy))
	for i, id := range m.ReadBy {
		readBy[i] = id.String()
	}
	return messageDoc{
		ID:          m.ID,
		Kind:        string(m.Kind),
		TeamID:      optionalString(m.TeamID),
		RecipientID: optionalString(m.RecipientID),
		SenderID:    m.SenderID.String(),
		Ciphertext:  m.Ciphertext,
		Attachment:  m.Attachment,
		CreatedAt:   m.CreatedAt,
		ReadBy:      readBy,
		Edited:      m.Edited,
		EditedAt:    m.EditedAt,
	}
}

func (d messageDoc) toModel() (*models.Message, error) {
	m := &models.Message{
		ID:         d.ID,
		Kind:       models.ConversationKind(d.Kind),
		Ciphertext: d.Ciphertext,
		Attachment: d.Attachment,
		CreatedAt:  d.CreatedAt.UTC(),
		Edited:     d.Edited,
		EditedAt:   d.EditedAt,
	}
	var err error
	if m.SenderID, err = uuid.Parse(d.SenderID); err != nil {
		return nil, err
	}
	if m.TeamID, err = optionalUUID(d.TeamID); err != nil {
		return nil, err
	}
	if m.RecipientID, err = optionalUUID(d.RecipientID); err != nil {
		return nil, err
	}
	m.ReadBy = make([]uuid.UUID, 0, len(d.ReadBy))
	for _, r := range d.ReadBy {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, err
		}
		m.ReadBy = append(m.ReadBy, id)
	}
	return m, nil
}

// InsertMessage persists a new message.
func (s *MongoStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := s.messages().InsertOne(ctx, toMessageDoc(msg))
	return err
}

// GetMessage retrieves a message by ID.
func (s *MongoStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var doc messageDoc
	err := s.messages().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toModel()
}

// ListMessages returns up to limit messages older than cursor, newest first.
func (s *MongoStore) ListMessages(ctx context.Context, conv models.ConversationRef, cursor Cursor, limit int) ([]models.Message, error) {
	page := bson.M{"created_at": bson.M{"$lt": cursor.Before}}
	if cursor.BeforeID != "" {
		page = bson.M{"$or": bson.A{
			bson.M{"created_at": bson.M{"$lt": cursor.Before}},
			bson.M{"created_at": cursor.Before, "_id": bson.M{"$lt": cursor.BeforeID}},
		}}
	}
	filter := bson.M{"$and": bson.A{mongoConversation(conv), page}}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	return s.findMessages(ctx, filter, opts)
}

func (s *MongoStore) findMessages(ctx context.Context, filter any, opts *options.FindOptionsBuilder) ([]models.Message, error) {
	cur, err := s.messages().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	messages := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		m, err := d.toModel()
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, nil
}

// DeleteMessage hard-deletes a message.
func (s *MongoStore) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.messages().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// MarkRead adds reader to read_by with $addToSet.
func (s *MongoStore) MarkRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter := bson.M{"$and": bson.A{
		mongoConversation(conv),
		bson.M{"_id": bson.M{"$in": ids}},
		mongoUnread(reader),
	}}
	res, err := s.messages().UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"read_by": reader.String()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkAllRead marks every message in conv not authored by reader.
func (s *MongoStore) MarkAllRead(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	filter := bson.M{"$and": bson.A{mongoConversation(conv), mongoUnread(reader)}}
	res, err := s.messages().UpdateMany(ctx, filter, bson.M{"$addToSet": bson.M{"read_by": reader.String()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// CountMessages counts the messages of a conversation.
func (s *MongoStore) CountMessages(ctx context.Context, conv models.ConversationRef) (int64, error) {
	return s.messages().CountDocuments(ctx, mongoConversation(conv))
}

// CountUnread counts messages in conv that reader neither wrote nor read.
func (s *MongoStore) CountUnread(ctx context.Context, conv models.ConversationRef, reader uuid.UUID) (int64, error) {
	return s.messages().CountDocuments(ctx, bson.M{"$and": bson.A{mongoConversation(conv), mongoUnread(reader)}})
}

// LastMessage returns the newest message of a conversation.
func (s *MongoStore) LastMessage(ctx context.Context, conv models.ConversationRef) (*models.Message, error) {
	var doc messageDoc
	err := s.messages().FindOne(ctx, mongoConversation(conv),
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return doc.toModel()
}

// ListDirectThreads groups the user's direct messages by peer.
func (s *MongoStore) ListDirectThreads(ctx context.Context, user uuid.UUID) ([]models.DirectThread, error) {
	u := user.String()
	filter := bson.M{
		"kind": "direct",
		"$or":  bson.A{bson.M{"sender_id": u}, bson.M{"recipient_id": u}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	messages, err := s.findMessages(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	byPeer := make(map[uuid.UUID]int)
	var threads []models.DirectThread
	for i := range messages {
		msg := &messages[i]
		peer := msg.SenderID
		if peer == user {
			peer = *msg.RecipientID
		}
		idx, ok := byPeer[peer]
		if !ok {
			idx = len(threads)
			byPeer[peer] = idx
			threads = append(threads, models.DirectThread{PeerID: peer, LastMessage: *msg})
		}
		if msg.SenderID == peer && !msg.IsReadBy(user) {
			threads[idx].UnreadCount++
		}
	}
	return threads, nil
}

// GetTeam retrieves a team by ID.
func (s *MongoStore) GetTeam(ctx context.Context, id uuid.UUID) (*models.Team, error) {
	var doc teamDoc
	err := s.teams().FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	team := &models.Team{ID: id, Name: doc.Name}
	if team.ManagerID, err = uuid.Parse(doc.ManagerID); err != nil {
		return nil, err
	}
	for _, m := range doc.MemberIDs {
		member, err := uuid.Parse(m)
		if err != nil {
			return nil, err
		}
		team.MemberIDs = append(team.MemberIDs, member)
	}
	return team, nil
}

// GetUser retrieves a user by ID.
func (s *MongoStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var doc userDoc
	err := s.users().FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &models.User{ID: id, DisplayName: doc.Name, Email: doc.Email, Role: doc.Role, CreatedAt: doc.CreatedAt}, nil
}

// ListUsers returns every user ordered by name.
func (s *MongoStore) ListUsers(ctx context.Context) ([]models.User, error) {
	cur, err := s.users().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, err
		}
		users = append(users, models.User{ID: id, DisplayName: d.Name, Email: d.Email, Role: d.Role, CreatedAt: d.CreatedAt})
	}
	return users, nil
}

// UpsertUser creates or updates a user record.
func (s *MongoStore) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.users().UpdateOne(ctx,
		bson.M{"_id": u.ID.String()},
		bson.M{
			"$set":         bson.M{"name": u.DisplayName, "email": u.Email, "role": u.Role},
			"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// UpsertTeam creates or replaces a team record.
func (s *MongoStore) UpsertTeam(ctx context.Context, t models.Team) error {
	members := make([]string, len(t.MemberIDs))
	for i, m := range t.MemberIDs {
		members[i] = m.String()
	}
	_, err := s.teams().ReplaceOne(ctx,
		bson.M{"_id": t.ID.String()},
		teamDoc{ID: t.ID.String(), Name: t.Name, ManagerID: t.ManagerID.String(), MemberIDs: members},
		options.Replace().SetUpsert(true),
	)
	return err
}
