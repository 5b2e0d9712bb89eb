// Package mongostore implements queue.Store on a MongoDB collection.
//
// Jobs sharing a created_at are ordered by a sequence drawn from a counter
// document in the "<collection>_counters" collection.
//
// Claims and promotions are single FindOneAndUpdate calls, which MongoDB
// applies atomically per document. Fail reads the failure counter and writes
// it back conditionally on the value it read, so a concurrent reclaim turns
// the write into a stale lease instead of a lost update.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/bgjobs/pkg/queue"
)

// DefaultCollection is the collection used when none is configured
const DefaultCollection = "bgjobs_jobs"

var _ queue.Store = (*Store)(nil)

// Store is a MongoDB queue store. The caller owns the client.
type Store struct {
	coll     *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the store clock
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store on the given collection
func New(coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{
		coll:     coll,
		counters: coll.Database().Collection(coll.Name() + "_counters"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the indexes backing claim, promotion and reclaim queries
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "state", Value: 1},
			{Key: "process_after", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "state", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "state", Value: 1},
			{Key: "heartbeat_at", Value: 1},
		}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create indexes: %w", err)
	}
	return nil
}

// CreateJob implements queue.EnqueuerRepository
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return queue.ErrJobNil
	}

	j, err := queue.PrepareNewJob(job, s.now())
	if err != nil {
		return err
	}

	seq, err := s.nextSeq(ctx)
	if err != nil {
		return fmt.Errorf("mongostore: create job: %w", err)
	}
	doc := toDocument(j)
	doc.Seq = seq

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", queue.ErrJobAlreadyExists, j.ID)
		}
		return fmt.Errorf("mongostore: create job: %w", err)
	}

	*job = *j
	return nil
}

// Claim implements queue.WorkerRepository
func (s *Store) Claim(ctx context.Context, queueName string) (*queue.Job, error) {
	now := s.now()
	filter := bson.M{
		"queue":         queueName,
		"state":         string(queue.StateQueued),
		"process_after": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"state":        string(queue.StateProcessing),
			"started_at":   now,
			"heartbeat_at": now,
			"lease_token":  uuid.NewString(),
		},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "process_after", Value: 1},
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		})

	job, err := s.findOneAndUpdate(ctx, filter, update, opts)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: claim: %w", err)
	}
	return job, nil
}

// Heartbeat implements queue.WorkerRepository
func (s *Store) Heartbeat(ctx context.Context, lease queue.Lease) (bool, error) {
	res, err := s.coll.UpdateOne(ctx, leaseFilter(lease), bson.M{
		"$set": bson.M{"heartbeat_at": s.now()},
	})
	if err != nil {
		return false, fmt.Errorf("mongostore: heartbeat: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// Complete implements queue.WorkerRepository
func (s *Store) Complete(ctx context.Context, lease queue.Lease, result json.RawMessage) error {
	set := bson.M{
		"state":       string(queue.StateCompleted),
		"finished_at": s.now(),
	}
	if len(result) > 0 {
		set["result"] = []byte(result)
	}

	res, err := s.coll.UpdateOne(ctx, leaseFilter(lease), bson.M{
		"$set":   set,
		"$unset": bson.M{"lease_token": ""},
	})
	if err != nil {
		return fmt.Errorf("mongostore: complete: %w", err)
	}
	if res.MatchedCount == 0 {
		return queue.ErrStaleLease
	}
	return nil
}

// Fail implements queue.WorkerRepository
func (s *Store) Fail(ctx context.Context, lease queue.Lease, message string, policy queue.RetryPolicy) (queue.State, error) {
	var current jobDocument
	err := s.coll.FindOne(ctx, leaseFilter(lease)).Decode(&current)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", queue.ErrStaleLease
	}
	if err != nil {
		return "", fmt.Errorf("mongostore: fail: %w", err)
	}

	now := s.now()
	failures := current.NumFailures + 1
	state, processAfter := policy.Next(failures, now)

	set := bson.M{
		"state":           string(state),
		"num_failures":    failures,
		"failure_message": queue.CleanMessage(message),
	}
	if state == queue.StateErrored {
		set["finished_at"] = now
	} else {
		set["process_after"] = processAfter
	}

	filter := leaseFilter(lease)
	filter["num_failures"] = current.NumFailures

	res, err := s.coll.UpdateOne(ctx, filter, bson.M{
		"$set":   set,
		"$unset": bson.M{"lease_token": ""},
	})
	if err != nil {
		return "", fmt.Errorf("mongostore: fail: %w", err)
	}
	if res.MatchedCount == 0 {
		return "", queue.ErrStaleLease
	}
	return state, nil
}

// PromoteNext implements queue.SchedulerRepository
func (s *Store) PromoteNext(ctx context.Context, queueName string) (*queue.Job, error) {
	filter := bson.M{
		"queue": queueName,
		"state": string(queue.StateScheduled),
	}
	// Pipeline update so process_after can be raised relative to its own value.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"state":         string(queue.StateQueued),
			"process_after": bson.M{"$max": bson.A{"$process_after", s.now()}},
		}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "created_at", Value: 1},
			{Key: "seq", Value: 1},
		})

	job, err := s.findOneAndUpdate(ctx, filter, update, opts)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNoJobToPromote
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: promote: %w", err)
	}
	return job, nil
}

// ReclaimExpired implements queue.JanitorRepository
func (s *Store) ReclaimExpired(ctx context.Context, queueName string, leaseTimeout time.Duration) ([]uuid.UUID, error) {
	now := s.now()
	deadline := now.Add(-leaseTimeout)
	expired := bson.M{
		"queue": queueName,
		"state": string(queue.StateProcessing),
		"$or": bson.A{
			bson.M{"heartbeat_at": bson.M{"$lt": deadline}},
			bson.M{"heartbeat_at": bson.M{"$exists": false}},
		},
	}

	cursor, err := s.coll.Find(ctx, expired, options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "seq", Value: 1},
	}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: reclaim expired: %w", err)
	}
	var candidates []jobDocument
	if err := cursor.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("mongostore: reclaim expired: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, doc := range candidates {
		if doc.LeaseToken == nil {
			continue
		}
		// The lease token pins the exact claim that expired; a fresh heartbeat
		// or a new claim since the scan makes the update a no-op.
		filter := bson.M{
			"_id":         doc.ID,
			"state":       string(queue.StateProcessing),
			"lease_token": *doc.LeaseToken,
			"$or":         expired["$or"],
		}
		res, err := s.coll.UpdateOne(ctx, filter, bson.M{
			"$set":   bson.M{"state": string(queue.StateQueued), "process_after": now},
			"$inc":   bson.M{"num_resets": 1},
			"$unset": bson.M{"lease_token": ""},
		})
		if err != nil {
			return ids, fmt.Errorf("mongostore: reclaim expired: %w", err)
		}
		if res.MatchedCount == 0 {
			continue
		}

		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return ids, fmt.Errorf("mongostore: reclaim expired: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetJob implements queue.Store
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	var doc jobDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: get job: %w", err)
	}
	return doc.toJob()
}

// Stats counts jobs per state in the given queue
func (s *Store) Stats(ctx context.Context, queueName string) (map[queue.State]int, error) {
	cursor, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"queue": queueName}}},
		{{Key: "$group", Value: bson.M{"_id": "$state", "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongostore: stats: %w", err)
	}

	var groups []struct {
		State string `bson:"_id"`
		N     int    `bson:"n"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("mongostore: stats: %w", err)
	}

	stats := make(map[queue.State]int, len(groups))
	for _, g := range groups {
		stats[queue.State(g.State)] = g.N
	}
	return stats, nil
}

func (s *Store) findOneAndUpdate(ctx context.Context, filter, update any, opts *options.FindOneAndUpdateOptionsBuilder) (*queue.Job, error) {
	var doc jobDocument
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toJob()
}

// nextSeq atomically increments the creation counter of this collection
func (s *Store) nextSeq(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	for attempt := 0; ; attempt++ {
		err := s.counters.FindOneAndUpdate(ctx,
			bson.M{"_id": s.coll.Name()},
			bson.M{"$inc": bson.M{"seq": int64(1)}},
			opts,
		).Decode(&counter)
		// Two first-time upserts can race on _id; the loser retries as an update.
		if mongo.IsDuplicateKeyError(err) && attempt == 0 {
			continue
		}
		if err != nil {
			return 0, err
		}
		return counter.Seq, nil
	}
}

func leaseFilter(lease queue.Lease) bson.M {
	filter := bson.M{
		"_id":         lease.JobID.String(),
		"state":       string(queue.StateProcessing),
		"lease_token": lease.Token.String(),
	}
	if lease.Queue != "" {
		filter["queue"] = lease.Queue
	}
	return filter
}
