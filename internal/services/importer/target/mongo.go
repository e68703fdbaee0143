// Package target provides the document-store side of the importer: the
// natural-key message upsert and the two-phase conversation aggregate write
package target

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	perr "msgvault/internal/platform/errors"
	"msgvault/internal/platform/store/mgo"
	"msgvault/internal/services/importer/domain"
)

// Collection names in the target database
const (
	MessagesCollection = "messages"
	ChatsCollection    = "chats"
)

// StateActive is the aggregate state stamped on first creation
const StateActive = "active"

// Mongo implements domain.TargetStore against a mongo database
type Mongo struct {
	messages *mongo.Collection
	chats    *mongo.Collection
}

// NewMongo binds the target store to its collections
func NewMongo(db *mgo.DB) *Mongo {
	if db == nil {
		panic("target: nil mongo database")
	}
	return &Mongo{
		messages: db.Collection(MessagesCollection),
		chats:    db.Collection(ChatsCollection),
	}
}

// EnsureIndexes creates the unique keys the upserts rely on. The message
// natural key must be enforced by the store, not by application reads
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "source_instance_id", Value: 1},
			{Key: "source_message_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("ux_messages_natural_key"),
	})
	if err != nil {
		return perr.FromMongof(err, "create messages index")
	}

	_, err = m.chats.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "chat_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("ux_chats_tenant_chat"),
	})
	if err != nil {
		return perr.FromMongof(err, "create chats index")
	}
	return nil
}

// UpsertMessage writes one message keyed by its provider-scoped natural
// key. The canonical sub-document is overwritten wholesale so repeated
// delivery converges on the latest mapping; imported_at survives from the
// first write
func (m *Mongo) UpsertMessage(
	ctx context.Context,
	tenantID, sourceInstanceID, naturalID string,
	doc any,
) (domain.UpsertResult, error) {
	filter := bson.D{
		{Key: "tenant_id", Value: tenantID},
		{Key: "source_instance_id", Value: sourceInstanceID},
		{Key: "source_message_id", Value: naturalID},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "canonical", Value: doc},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "imported_at", Value: time.Now().UTC()},
		}},
	}

	res, err := m.messages.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return domain.UpsertResult{}, perr.FromMongof(err, "upsert message %s", naturalID)
	}

	out := domain.UpsertResult{}
	if res.UpsertedCount > 0 {
		out.Inserted = 1
	} else {
		out.Updated = 1
	}
	return out, nil
}

// EnsureAggregate is phase 1 of the aggregate write: a conditional insert
// establishing the initial shape with counters at zero. The store's unique
// key serializes concurrent phase 1s; losing that race is success
func (m *Mongo) EnsureAggregate(ctx context.Context, seed domain.AggregateSeed) error {
	state := seed.State
	if state == "" {
		state = StateActive
	}
	createdAt := seed.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	filter := bson.D{
		{Key: "tenant_id", Value: seed.TenantID},
		{Key: "chat_id", Value: seed.ChatID},
	}
	defaults := bson.D{
		{Key: "tenant_id", Value: seed.TenantID},
		{Key: "chat_id", Value: seed.ChatID},
		{Key: "state", Value: state},
		{Key: "created_at", Value: createdAt},
		{Key: "message_count", Value: int64(0)},
		{Key: "participants", Value: bson.A{}},
		{Key: "connections", Value: bson.A{}},
		{Key: "cursor", Value: bson.D{
			{Key: "last_ts_seconds", Value: int64(0)},
			{Key: "last_message_id", Value: ""},
			{Key: "imported_count", Value: int64(0)},
			{Key: "updated_at", Value: createdAt},
		}},
	}
	// bounds seed only when the batch observed timestamps; otherwise the
	// first delta's $min/$max establishes them on the absent fields
	if !seed.FirstTs.IsZero() {
		defaults = append(defaults, bson.E{Key: "first_ts", Value: seed.FirstTs})
	}
	if !seed.LastTs.IsZero() {
		defaults = append(defaults, bson.E{Key: "last_ts", Value: seed.LastTs})
	}
	update := bson.D{{Key: "$setOnInsert", Value: defaults}}

	_, err := m.chats.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if perr.IsMongoDuplicateKey(err) {
			return nil // another run created it first
		}
		return perr.FromMongof(err, "ensure aggregate %s", seed.ChatID)
	}
	return nil
}

// ApplyAggregateDelta is phase 2: the additive update. It runs without
// upsert so defaults are guaranteed to exist before any increment lands;
// a missing aggregate is a precondition failure, not an implicit insert
func (m *Mongo) ApplyAggregateDelta(ctx context.Context, d domain.AggregateDelta) error {
	filter := bson.D{
		{Key: "tenant_id", Value: d.TenantID},
		{Key: "chat_id", Value: d.ChatID},
	}

	update := bson.D{
		{Key: "$inc", Value: bson.D{
			{Key: "message_count", Value: d.Imported},
			{Key: "cursor.imported_count", Value: d.Imported},
		}},
		{Key: "$set", Value: bson.D{
			{Key: "cursor.last_ts_seconds", Value: d.Cursor.TsSeconds},
			{Key: "cursor.last_message_id", Value: d.Cursor.LastID},
			{Key: "cursor.updated_at", Value: time.Now().UTC()},
		}},
		{Key: "$addToSet", Value: bson.D{
			{Key: "participants", Value: bson.D{{Key: "$each", Value: toArray(d.Participants)}}},
			{Key: "connections", Value: bson.D{{Key: "$each", Value: toArray(d.Connections)}}},
		}},
	}
	// a batch that imported nothing still flushes its cursor; bounds only
	// move when the batch actually observed timestamps
	if !d.FirstTs.IsZero() {
		update = append(update, bson.E{Key: "$min", Value: bson.D{{Key: "first_ts", Value: d.FirstTs}}})
	}
	if !d.LastTs.IsZero() {
		update = append(update, bson.E{Key: "$max", Value: bson.D{{Key: "last_ts", Value: d.LastTs}}})
	}

	res, err := m.chats.UpdateOne(ctx, filter, update)
	if err != nil {
		return perr.FromMongof(err, "apply aggregate delta %s", d.ChatID)
	}
	if res.MatchedCount == 0 {
		return perr.DBf("aggregate %s/%s missing before delta", d.TenantID, d.ChatID)
	}
	return nil
}

// chatDoc is the slice of the aggregate the cursor load reads
type chatDoc struct {
	Cursor struct {
		LastTsSeconds int64  `bson:"last_ts_seconds"`
		LastMessageID string `bson:"last_message_id"`
	} `bson:"cursor"`
}

// LoadCursor returns the persisted cursor, zero when no aggregate exists.
// Resetting a conversation's import position is exactly deleting its
// aggregate document
func (m *Mongo) LoadCursor(ctx context.Context, tenantID, chatID string) (domain.Cursor, error) {
	filter := bson.D{
		{Key: "tenant_id", Value: tenantID},
		{Key: "chat_id", Value: chatID},
	}

	var doc chatDoc
	err := m.chats.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return domain.Cursor{}, nil
		}
		return domain.Cursor{}, perr.FromMongof(err, "load cursor %s", chatID)
	}
	return domain.Cursor{
		TsSeconds: doc.Cursor.LastTsSeconds,
		LastID:    doc.Cursor.LastMessageID,
	}, nil
}

func toArray(xs []string) bson.A {
	out := make(bson.A, 0, len(xs))
	for _, x := range xs {
		out = append(out, x)
	}
	return out
}
