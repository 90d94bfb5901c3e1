package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wengzhiwen/runjplib-pipeline/pkg/api"
)

// MongoStore is the production TaskStore, backed by a MongoDB
// collection of one document per task.
type MongoStore struct {
	coll *mongo.Collection
}

// Ensure it implements TaskStore.
var _ TaskStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed task store.
// dbName defaults to "runjplib" if empty, collName to "processing_tasks".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "runjplib"
	}
	if collName == "" {
		collName = "processing_tasks"
	}

	return &MongoStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

// EnsureIndexes creates the indexes the sweeps and listing queries use.
// It is idempotent and normally called once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	return err
}

type mongoTaskDoc struct {
	ID              string        `bson:"_id"`
	Type            string        `bson:"task_type"`
	Status          string        `bson:"status"`
	CurrentStep     string        `bson:"current_step"`
	Progress        int           `bson:"progress"`
	Params          bson.M        `bson:"params,omitempty"`
	RestartFromStep string        `bson:"restart_from_step,omitempty"`
	OwnerPID        int           `bson:"owner_pid,omitempty"`
	ErrorMessage    string        `bson:"error_message,omitempty"`
	Logs            []mongoLogDoc `bson:"logs"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
}

type mongoLogDoc struct {
	Timestamp time.Time `bson:"timestamp"`
	Level     string    `bson:"level"`
	Message   string    `bson:"message"`
}

func (d mongoTaskDoc) toTask() *api.Task {
	t := &api.Task{
		ID:              d.ID,
		Type:            d.Type,
		Status:          api.Status(d.Status),
		CurrentStep:     api.Step(d.CurrentStep),
		Progress:        d.Progress,
		RestartFromStep: api.Step(d.RestartFromStep),
		OwnerPID:        d.OwnerPID,
		ErrorMessage:    d.ErrorMessage,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if d.Params != nil {
		t.Params = api.Params(d.Params)
	}
	t.Logs = make([]api.LogEntry, len(d.Logs))
	for i, l := range d.Logs {
		t.Logs[i] = api.LogEntry{
			Timestamp: l.Timestamp.UTC(),
			Level:     api.LogLevel(l.Level),
			Message:   l.Message,
		}
	}
	return t
}

func (s *MongoStore) CreateTask(ctx context.Context, taskType string, params api.Params) (*api.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ts := now()
	doc := mongoTaskDoc{
		ID:        uuid.NewString(),
		Type:      taskType,
		Status:    string(api.StatusPending),
		Params:    bson.M(params),
		Logs:      []mongoLogDoc{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return doc.toTask(), nil
}

func (s *MongoStore) GetTask(ctx context.Context, id string) (*api.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc mongoTaskDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return doc.toTask(), nil
}

func (s *MongoStore) UpdateTask(ctx context.Context, id string, upd TaskUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"updated_at": now()}
	if upd.Status != nil {
		set["status"] = string(*upd.Status)
	}
	if upd.CurrentStep != nil {
		set["current_step"] = string(*upd.CurrentStep)
	}
	if upd.Progress != nil {
		set["progress"] = *upd.Progress
	}
	if upd.RestartFromStep != nil {
		set["restart_from_step"] = string(*upd.RestartFromStep)
	}
	if upd.OwnerPID != nil {
		set["owner_pid"] = *upd.OwnerPID
	}
	if upd.ErrorMessage != nil {
		set["error_message"] = *upd.ErrorMessage
	}

	res, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *MongoStore) AppendLog(ctx context.Context, id string, entry api.LogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entry = stampEntry(entry)
	update := bson.M{
		"$push": bson.M{"logs": mongoLogDoc{
			Timestamp: entry.Timestamp,
			Level:     string(entry.Level),
			Message:   entry.Message,
		}},
		"$set": bson.M{"updated_at": now()},
	}

	res, err := s.coll.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *MongoStore) ListTasks(ctx context.Context, f TaskFilter) ([]*api.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bfilter := bson.M{}
	if f.Status != "" {
		bfilter["status"] = string(f.Status)
	}
	if f.Type != "" {
		bfilter["task_type"] = f.Type
	}

	order := -1
	if f.OldestFirst {
		order = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: order}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.coll.Find(ctx, bfilter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var tasks []*api.Task
	for cur.Next(ctx) {
		var doc mongoTaskDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		tasks = append(tasks, doc.toTask())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *MongoStore) DeleteTasksBefore(ctx context.Context, cutoff time.Time, statuses []api.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	in := make([]string, len(statuses))
	for i, st := range statuses {
		in[i] = string(st)
	}

	res, err := s.coll.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$in": in},
		"updated_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}
