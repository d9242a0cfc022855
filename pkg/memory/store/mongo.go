package store

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/elderwise/companion/pkg/memory/model"
)

const (
	profilesCollection  = "user_profiles"
	fragmentsCollection = "memory_fragments"
	logsCollection      = "interaction_logs"

	mongoCloseTimeout = 5 * time.Second
)

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client    *mongo.Client
	profiles  *mongo.Collection
	fragments *mongo.Collection
	logs      *mongo.Collection
	logger    *log.Logger
}

// NewMongoStore connects, pings, and returns a document-backed store.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{
		client:    client,
		profiles:  db.Collection(profilesCollection),
		fragments: db.Collection(fragmentsCollection),
		logs:      db.Collection(logsCollection),
		logger:    log.New(os.Stderr, "mongo-store: ", log.LstdFlags),
	}, nil
}

// WithLogger overrides the default logger.
func (ms *MongoStore) WithLogger(logger *log.Logger) *MongoStore {
	if logger != nil {
		ms.logger = logger
	}
	return ms
}

func (ms *MongoStore) logf(format string, args ...any) {
	if ms.logger != nil {
		ms.logger.Printf(format, args...)
	}
}

// EnsureIndexes creates the compound indexes the query paths rely on.
func (ms *MongoStore) EnsureIndexes(ctx context.Context) error {
	fragmentIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "retention", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("user_retention_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "tags", Value: 1}},
			Options: options.Index().SetName("user_tags"),
		},
	}
	if _, err := ms.fragments.Indexes().CreateMany(ctx, fragmentIndexes); err != nil {
		return err
	}
	if _, err := ms.profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetName("user_id").SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := ms.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
		Options: options.Index().SetName("user_timestamp"),
	})
	return err
}

func (ms *MongoStore) CreateProfile(ctx context.Context, profile model.UserProfile) (string, error) {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = now
	}
	res, err := ms.profiles.InsertOne(ctx, profile)
	if err != nil {
		return "", err
	}
	return objectIDHex(res.InsertedID), nil
}

func (ms *MongoStore) Profile(ctx context.Context, userID string) (model.UserProfile, error) {
	var profile model.UserProfile
	err := ms.profiles.FindOne(ctx, bson.M{"user_id": userID}).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return model.UserProfile{}, err
	}
	return profile, nil
}

func (ms *MongoStore) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (bool, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range updates {
		if k == "user_id" || k == "_id" || k == "created_at" {
			continue
		}
		set[k] = v
	}
	res, err := ms.profiles.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func (ms *MongoStore) StoreFragment(ctx context.Context, fragment model.MemoryFragment) (string, error) {
	doc := fragmentDocumentFrom(fragment)
	doc.ID = primitive.NewObjectID()
	if _, err := ms.fragments.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID.Hex(), nil
}

func (ms *MongoStore) SetFragmentEmbedding(ctx context.Context, fragmentID, embeddingID string) error {
	oid, err := primitive.ObjectIDFromHex(fragmentID)
	if err != nil {
		return err
	}
	_, err = ms.fragments.UpdateByID(ctx, oid, bson.M{"$set": bson.M{"embedding_id": embeddingID}})
	return err
}

func (ms *MongoStore) ActiveFragments(ctx context.Context, userID string, limit int) ([]model.MemoryFragment, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := ms.fragments.Find(ctx, bson.M{"user_id": userID, "retention": model.RetentionActive}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	return decodeFragments(ctx, cursor)
}

func (ms *MongoStore) FragmentsByTags(ctx context.Context, userID string, tags []string, retention model.Retention) ([]model.MemoryFragment, error) {
	filter := bson.M{"user_id": userID, "tags": bson.M{"$in": tags}}
	if retention != "" {
		filter["retention"] = retention
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := ms.fragments.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	return decodeFragments(ctx, cursor)
}

func (ms *MongoStore) ArchiveAged(ctx context.Context, olderThan time.Time) (int, []string, error) {
	filter := bson.M{
		"retention": model.RetentionActive,
		"timestamp": bson.M{"$lt": olderThan},
	}
	embeddingIDs, err := ms.collectEmbeddingIDs(ctx, filter)
	if err != nil {
		return 0, nil, err
	}
	res, err := ms.fragments.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"retention": model.RetentionArchive}})
	if err != nil {
		return 0, nil, err
	}
	return int(res.ModifiedCount), embeddingIDs, nil
}

func (ms *MongoStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int, []string, error) {
	filter := bson.M{"timestamp": bson.M{"$lt": olderThan}}
	embeddingIDs, err := ms.collectEmbeddingIDs(ctx, filter)
	if err != nil {
		return 0, nil, err
	}
	res, err := ms.fragments.DeleteMany(ctx, filter)
	if err != nil {
		return 0, nil, err
	}
	return int(res.DeletedCount), embeddingIDs, nil
}

func (ms *MongoStore) collectEmbeddingIDs(ctx context.Context, filter bson.M) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"embedding_id": 1})
	cursor, err := ms.fragments.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			EmbeddingID string `bson:"embedding_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.EmbeddingID != "" {
			ids = append(ids, doc.EmbeddingID)
		}
	}
	return ids, cursor.Err()
}

func (ms *MongoStore) LogInteraction(ctx context.Context, entry model.InteractionLog) (string, error) {
	doc := logDocumentFrom(entry)
	doc.ID = primitive.NewObjectID()
	if _, err := ms.logs.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID.Hex(), nil
}

func (ms *MongoStore) Statistics(ctx context.Context, userID string) model.UserStatistics {
	var stats model.UserStatistics
	active, err := ms.fragments.CountDocuments(ctx, bson.M{"user_id": userID, "retention": model.RetentionActive})
	if err != nil {
		ms.logf("count active fragments for %s: %v", userID, err)
		return model.UserStatistics{}
	}
	archived, err := ms.fragments.CountDocuments(ctx, bson.M{"user_id": userID, "retention": model.RetentionArchive})
	if err != nil {
		ms.logf("count archived fragments for %s: %v", userID, err)
		return model.UserStatistics{}
	}
	interactions, err := ms.logs.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		ms.logf("count interactions for %s: %v", userID, err)
		return model.UserStatistics{}
	}
	stats.ActiveMemories = int(active)
	stats.ArchivedMemories = int(archived)
	stats.TotalInteractions = int(interactions)

	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var last logDocument
	err = ms.logs.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&last)
	if err == nil {
		ts := last.Timestamp
		stats.LastInteraction = &ts
	} else if !errors.Is(err, mongo.ErrNoDocuments) {
		ms.logf("fetch last interaction for %s: %v", userID, err)
	}
	return stats
}

func (ms *MongoStore) GlobalStatistics(ctx context.Context) GlobalStatistics {
	users, err := ms.profiles.CountDocuments(ctx, bson.M{})
	if err != nil {
		ms.logf("count users: %v", err)
		return GlobalStatistics{}
	}
	active, err := ms.fragments.CountDocuments(ctx, bson.M{"retention": model.RetentionActive})
	if err != nil {
		ms.logf("count active memories: %v", err)
		return GlobalStatistics{}
	}
	archived, err := ms.fragments.CountDocuments(ctx, bson.M{"retention": model.RetentionArchive})
	if err != nil {
		ms.logf("count archived memories: %v", err)
		return GlobalStatistics{}
	}
	interactions, err := ms.logs.CountDocuments(ctx, bson.M{})
	if err != nil {
		ms.logf("count interactions: %v", err)
		return GlobalStatistics{}
	}
	return GlobalStatistics{
		Users:             int(users),
		ActiveMemories:    int(active),
		ArchivedMemories:  int(archived),
		TotalInteractions: int(interactions),
	}
}

// Close releases the underlying MongoDB client.
func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

type fragmentDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      string             `bson:"user_id"`
	Timestamp   time.Time          `bson:"timestamp"`
	Type        string             `bson:"type"`
	Content     string             `bson:"content"`
	Tags        []string           `bson:"tags"`
	Retention   string             `bson:"retention"`
	EmbeddingID string             `bson:"embedding_id,omitempty"`
	Metadata    map[string]any     `bson:"metadata,omitempty"`
}

func fragmentDocumentFrom(f model.MemoryFragment) fragmentDocument {
	return fragmentDocument{
		UserID:      f.UserID,
		Timestamp:   f.Timestamp,
		Type:        string(f.Type),
		Content:     f.Content,
		Tags:        f.Tags,
		Retention:   string(f.Retention),
		EmbeddingID: f.EmbeddingID,
		Metadata:    f.Metadata,
	}
}

func (doc fragmentDocument) toFragment() model.MemoryFragment {
	return model.MemoryFragment{
		ID:          doc.ID.Hex(),
		UserID:      doc.UserID,
		Timestamp:   doc.Timestamp,
		Type:        model.FragmentType(doc.Type),
		Content:     doc.Content,
		Tags:        doc.Tags,
		Retention:   model.Retention(doc.Retention),
		EmbeddingID: doc.EmbeddingID,
		Metadata:    doc.Metadata,
	}
}

type logDocument struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	UserID         string             `bson:"user_id"`
	SessionID      string             `bson:"session_id"`
	Timestamp      time.Time          `bson:"timestamp"`
	UserMessage    string             `bson:"user_message"`
	AIResponse     string             `bson:"ai_response"`
	ContextUsed    map[string]any     `bson:"context_used,omitempty"`
	ResponseTimeMs int                `bson:"response_time_ms"`
}

func logDocumentFrom(entry model.InteractionLog) logDocument {
	return logDocument{
		UserID:         entry.UserID,
		SessionID:      entry.SessionID,
		Timestamp:      entry.Timestamp,
		UserMessage:    entry.UserMessage,
		AIResponse:     entry.AIResponse,
		ContextUsed:    entry.ContextUsed,
		ResponseTimeMs: entry.ResponseTimeMs,
	}
}

func decodeFragments(ctx context.Context, cursor *mongo.Cursor) ([]model.MemoryFragment, error) {
	var fragments []model.MemoryFragment
	for cursor.Next(ctx) {
		var doc fragmentDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		fragments = append(fragments, doc.toFragment())
	}
	return fragments, cursor.Err()
}

func objectIDHex(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return ""
}
