package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one document per tracker in a collection named after the
// table. EnsureTable creates the unique index on name that makes an upsert
// against an existing tracker fail instead of inserting a duplicate.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database, table string) *MongoStore {
	return &MongoStore{coll: db.Collection(table)}
}

func (s *MongoStore) Table() string {
	return s.coll.Name()
}

func (s *MongoStore) EnsureTable(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: AttrName, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_" + AttrName),
	})
	if err != nil {
		return fmt.Errorf("create index on %s: %w", s.coll.Name(), err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, name string) (Record, bool, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{AttrName: name}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *MongoStore) ConditionalPut(ctx context.Context, rec Record, cond Condition) error {
	var (
		or     bson.A
		upsert bool
	)
	for _, cl := range cond.Clauses() {
		switch cl.Op {
		case OpNotExists:
			if cl.Attr == AttrName {
				upsert = true
				continue
			}
			or = append(or, bson.M{cl.Attr: bson.M{"$exists": false}})
		case OpLessThan:
			or = append(or, bson.M{cl.Attr: bson.M{"$lt": cl.Value}})
		default:
			return fmt.Errorf("unsupported condition %s", cl.Op)
		}
	}

	if len(or) == 0 {
		if !upsert {
			return ErrPreconditionFailed
		}
		_, err := s.coll.InsertOne(ctx, rec)
		return mapMongoWriteError(err)
	}

	filter := bson.M{AttrName: rec.Name, "$or": or}
	update := bson.M{"$set": bson.M{AttrSequenceNumber: rec.SequenceNumber}}
	res, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	if err != nil {
		return mapMongoWriteError(err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

func (s *MongoStore) Put(ctx context.Context, rec Record) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{AttrName: rec.Name},
		bson.M{"$set": bson.M{AttrSequenceNumber: rec.SequenceNumber}},
		options.Update().SetUpsert(true),
	)
	return err
}

// mapMongoWriteError turns the unique index violation raised when an upsert
// finds an existing tracker that failed the filter into ErrPreconditionFailed.
func mapMongoWriteError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return ErrPreconditionFailed
	}
	return err
}
