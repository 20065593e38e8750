// Package mongo implements store.Store on MongoDB. Each queue maps to a
// collection and FindOneAndUpdate maps to the server's findAndModify.
package mongo

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"docqueue/internal/domain"
	"docqueue/internal/store"
)

type document struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	Payload []byte             `bson:"payload"`
	Visible time.Time          `bson:"visible"`
	Ack     string             `bson:"ack,omitempty"`
	Tries   int                `bson:"tries"`
	Deleted *time.Time         `bson:"deleted,omitempty"`
}

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials uri and waits for the primary to answer, retrying with
// exponential backoff for up to connectTimeout.
func Connect(ctx context.Context, uri, database string, connectTimeout time.Duration) (*Store, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout
	ping := func() error { return client.Ping(ctx, readpref.Primary()) }
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("mongo ping failed")
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}
	log.Info().Str("database", database).Msg("mongodb connected")
	return &Store{client: client, db: client.Database(database)}, nil
}

// New wraps an existing database handle. Close is a no-op for stores built this way.
func New(db *mongo.Database) *Store { return &Store{db: db} }

func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, f store.Filter, u store.Update, opts store.FindOptions) (domain.Message, bool, error) {
	update := updateDoc(u)
	if len(update) == 0 {
		return domain.Message{}, false, errors.New("mongo: empty update")
	}
	fo := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	if opts.ReturnNew {
		fo.SetReturnDocument(options.After)
	}
	if opts.SortByID {
		fo.SetSort(bson.D{{Key: "_id", Value: 1}})
	}

	var d document
	err := s.db.Collection(collection).FindOneAndUpdate(ctx, filterDoc(f), update, fo).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Message{}, false, errors.Wrap(store.ErrDuplicateAck, "find one and update")
		}
		return domain.Message{}, false, errors.Wrap(err, "find one and update")
	}
	return d.message(), true, nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, msgs []domain.Message) ([]string, error) {
	docs := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, fromMessage(m))
	}
	res, err := s.db.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return nil, errors.Wrap(err, "insert many")
	}
	ids := make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		oid, ok := id.(primitive.ObjectID)
		if !ok {
			return nil, errors.Errorf("unexpected id type %T", id)
		}
		ids = append(ids, oid.Hex())
	}
	return ids, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, f store.Filter) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, filterDoc(f))
	if err != nil {
		return 0, errors.Wrap(err, "delete many")
	}
	return res.DeletedCount, nil
}

func (s *Store) Count(ctx context.Context, collection string, f store.Filter) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, filterDoc(f))
	if err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *Store) EnsureIndexes(ctx context.Context, collection string) error {
	_, err := s.db.Collection(collection).Indexes().CreateMany(ctx, indexModels())
	if err != nil {
		return errors.Wrap(err, "create indexes")
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "deleted", Value: 1}, {Key: "visible", Value: 1}}},
		{Keys: bson.D{{Key: "ack", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	}
}

// filterDoc renders f as a query document. An exact Ack already implies the
// field exists, so AckPresence is only rendered without one.
func filterDoc(f store.Filter) bson.M {
	q := bson.M{}
	if f.Ack != "" {
		q["ack"] = f.Ack
	} else if c := presence(f.AckPresence); c != nil {
		q["ack"] = c
	}
	switch f.Deleted {
	case store.Absent:
		q["deleted"] = nil
	case store.Present:
		q["deleted"] = bson.M{"$exists": true}
	}
	visible := bson.M{}
	if !f.VisibleAtOrBefore.IsZero() {
		visible["$lte"] = f.VisibleAtOrBefore
	}
	if !f.VisibleAfter.IsZero() {
		visible["$gt"] = f.VisibleAfter
	}
	if len(visible) > 0 {
		q["visible"] = visible
	}
	return q
}

func presence(p store.Presence) bson.M {
	switch p {
	case store.Absent:
		return bson.M{"$exists": false}
	case store.Present:
		return bson.M{"$exists": true}
	}
	return nil
}

func updateDoc(u store.Update) bson.M {
	up := bson.M{}
	if u.IncTries != 0 {
		up["$inc"] = bson.M{"tries": u.IncTries}
	}
	set := bson.M{}
	if u.SetAck != "" {
		set["ack"] = u.SetAck
	}
	if !u.SetVisible.IsZero() {
		set["visible"] = u.SetVisible
	}
	if !u.SetDeleted.IsZero() {
		set["deleted"] = u.SetDeleted
	}
	if len(set) > 0 {
		up["$set"] = set
	}
	return up
}

func fromMessage(m domain.Message) document {
	return document{
		Payload: m.Payload,
		Visible: m.Visible,
		Ack:     m.Ack,
		Tries:   m.Tries,
		Deleted: m.Deleted,
	}
}

func (d document) message() domain.Message {
	return domain.Message{
		ID:      d.ID.Hex(),
		Payload: d.Payload,
		Visible: d.Visible,
		Ack:     d.Ack,
		Tries:   d.Tries,
		Deleted: d.Deleted,
	}
}
