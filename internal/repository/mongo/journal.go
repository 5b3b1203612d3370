package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"streamgate/internal/domain"
)

// Journal stores session admission and eviction events. It is append-only.
type Journal struct {
	collection *mongo.Collection
}

type eventDoc struct {
	SessionID  string `bson:"sessionId"`
	Name       string `bson:"name"`
	Kind       string `bson:"kind"`
	Reason     string `bson:"reason,omitempty"`
	Downloaded int64  `bson:"downloaded"`
	Uploaded   int64  `bson:"uploaded"`
	At         int64  `bson:"at"` // Unix milliseconds.
}

func NewJournal(client *mongo.Client, dbName, collectionName string) *Journal {
	return &Journal{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (j *Journal) EnsureIndexes(ctx context.Context) error {
	if j == nil || j.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "at", Value: -1}}},
		{Keys: bson.D{{Key: "sessionId", Value: 1}, {Key: "at", Value: -1}}},
	}
	_, err := j.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (j *Journal) Record(ctx context.Context, event domain.SessionEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid session event: %w", err)
	}
	if j == nil || j.collection == nil {
		return nil
	}
	_, err := j.collection.InsertOne(ctx, toEventDoc(event))
	return err
}

// ListRecent returns up to limit events, newest first.
func (j *Journal) ListRecent(ctx context.Context, limit int) ([]domain.SessionEvent, error) {
	if j == nil || j.collection == nil {
		return nil, nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := j.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []eventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	events := make([]domain.SessionEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, fromEventDoc(doc))
	}
	return events, nil
}

func toEventDoc(e domain.SessionEvent) eventDoc {
	return eventDoc{
		SessionID:  string(e.SessionID),
		Name:       e.Name,
		Kind:       string(e.Kind),
		Reason:     string(e.Reason),
		Downloaded: e.Downloaded,
		Uploaded:   e.Uploaded,
		At:         e.At.UTC().UnixMilli(),
	}
}

func fromEventDoc(doc eventDoc) domain.SessionEvent {
	return domain.SessionEvent{
		SessionID:  domain.SessionID(doc.SessionID),
		Name:       doc.Name,
		Kind:       domain.SessionEventKind(doc.Kind),
		Reason:     domain.EvictReason(doc.Reason),
		Downloaded: doc.Downloaded,
		Uploaded:   doc.Uploaded,
		At:         time.UnixMilli(doc.At).UTC(),
	}
}
