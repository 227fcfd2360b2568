// Package mongo implements runlog.Store on MongoDB.
//
// Events are stored one document per mirrored history entry in a collection
// indexed by (run_id, _id). Event IDs are ObjectID hex strings and double as
// list cursors.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/taskloop/runtime/agent"
	"goa.design/taskloop/runtime/agent/history"
	"goa.design/taskloop/runtime/agent/runlog"
)

const (
	defaultCollection = "taskloop_run_events"
	defaultTimeout    = 5 * time.Second
	storeName         = "runlog-mongo"
)

type (
	// Options configures the store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	// Store implements runlog.Store and health.Pinger.
	Store struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	eventDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		RunID     string        `bson:"run_id"`
		AgentID   string        `bson:"agent_id"`
		Seq       int           `bson:"seq"`
		Kind      string        `bson:"kind"`
		Content   string        `bson:"content"`
		Timestamp time.Time     `bson:"timestamp"`
	}

	collection interface {
		insert(ctx context.Context, doc eventDocument) (bson.ObjectID, error)
		find(ctx context.Context, filter bson.M, limit int64) (cursor, error)
		ensureIndexes(ctx context.Context) error
	}

	cursor interface {
		Next(ctx context.Context) bool
		Decode(val any) error
		Err() error
		Close(ctx context.Context) error
	}

	mongoCollection struct {
		coll *mongodriver.Collection
	}
)

var _ health.Pinger = (*Store)(nil)

// New returns a Store writing to the configured collection. It creates the
// listing index when missing.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	s := newStore(opts.Client, mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}, opts.Timeout)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.coll.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create run log index: %w", err)
	}
	return s, nil
}

func newStore(client *mongodriver.Client, coll collection, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{mongo: client, coll: coll, timeout: timeout}
}

// Name implements health.Pinger.
func (s *Store) Name() string { return storeName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, e *runlog.Event) error {
	if e == nil {
		return errors.New("event is required")
	}
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	oid, err := s.coll.insert(ctx, eventDocument{
		RunID:     e.RunID,
		AgentID:   string(e.AgentID),
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Content:   e.Content,
		Timestamp: ts.UTC(),
	})
	if err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	e.ID = oid.Hex()
	return nil
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, runID string, cur string, limit int) (page runlog.Page, err error) {
	if runID == "" {
		return runlog.Page{}, errors.New("run id is required")
	}
	if limit <= 0 {
		return runlog.Page{}, errors.New("limit must be > 0")
	}
	filter := bson.M{"run_id": runID}
	if cur != "" {
		oid, err := bson.ObjectIDFromHex(cur)
		if err != nil {
			return runlog.Page{}, fmt.Errorf("invalid cursor %q: %w", cur, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Fetch one extra document to learn whether another page exists.
	c, err := s.coll.find(ctx, filter, int64(limit+1))
	if err != nil {
		return runlog.Page{}, fmt.Errorf("list run events: %w", err)
	}
	defer func() {
		if cerr := c.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var events []*runlog.Event
	for c.Next(ctx) {
		var doc eventDocument
		if err := c.Decode(&doc); err != nil {
			return runlog.Page{}, err
		}
		events = append(events, &runlog.Event{
			ID:        doc.ID.Hex(),
			RunID:     doc.RunID,
			AgentID:   agent.Ident(doc.AgentID),
			Seq:       doc.Seq,
			Kind:      history.Kind(doc.Kind),
			Content:   doc.Content,
			Timestamp: doc.Timestamp,
		})
	}
	if err := c.Err(); err != nil {
		return runlog.Page{}, err
	}
	if len(events) > limit {
		events = events[:limit]
		page.NextCursor = events[limit-1].ID
	}
	page.Events = events
	return page, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (c mongoCollection) insert(ctx context.Context, doc eventDocument) (bson.ObjectID, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return bson.ObjectID{}, err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return bson.ObjectID{}, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid, nil
}

func (c mongoCollection) find(ctx context.Context, filter bson.M, limit int64) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit))
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) ensureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}
