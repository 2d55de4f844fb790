package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"remindai/internal/models"
)

// MongoReminderStore is the MongoDB-backed ReminderStore.
type MongoReminderStore struct {
	collection *mongo.Collection
}

// NewMongoReminderStore creates a store over the reminders collection.
func NewMongoReminderStore(collection *mongo.Collection) *MongoReminderStore {
	return &MongoReminderStore{collection: collection}
}

func (s *MongoReminderStore) Create(ctx context.Context, reminder *models.Reminder) (*models.Reminder, error) {
	r := cloneReminder(reminder)
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	r.Normalize()

	if _, err := s.collection.InsertOne(ctx, r); err != nil {
		return nil, persistenceError("create", fmt.Errorf("failed to insert reminder: %w", err))
	}
	return r, nil
}

func (s *MongoReminderStore) Get(ctx context.Context, id string) (*models.Reminder, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var r models.Reminder
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&r); err != nil {
		return nil, s.mapErr("get", err)
	}
	r.Normalize()
	return &r, nil
}

// ToggleCompletion flips completion with a single findAndModify. Field references inside
// one $set stage read the pre-update document, so completed_at sees the old flag.
func (s *MongoReminderStore) ToggleCompletion(ctx context.Context, id string, now time.Time) (*models.Reminder, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "completed", Value: bson.D{{Key: "$not", Value: bson.A{"$completed"}}}},
			{Key: "completed_at", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$completed", true}}},
				nil,
				now.UTC(),
			}}}},
			{Key: "updated_at", Value: now.UTC()},
		}}},
	}

	return s.findAndModify(ctx, "toggle", oid, update)
}

// Update applies patch in one findAndModify. Completing an already completed reminder
// keeps its original completed_at.
func (s *MongoReminderStore) Update(ctx context.Context, id string, patch models.ReminderPatch, now time.Time) (*models.Reminder, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	set := bson.D{{Key: "updated_at", Value: now.UTC()}}
	if patch.Task != nil {
		set = append(set, bson.E{Key: "task", Value: bson.D{{Key: "$literal", Value: *patch.Task}}})
	}
	if patch.ReminderTime != nil {
		set = append(set, bson.E{Key: "reminder_time", Value: patch.ReminderTime.UTC()})
	}
	if patch.Completed != nil {
		set = append(set, bson.E{Key: "completed", Value: *patch.Completed})
		if *patch.Completed {
			set = append(set, bson.E{Key: "completed_at", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$completed", true}}},
				"$completed_at",
				now.UTC(),
			}}}})
		} else {
			set = append(set, bson.E{Key: "completed_at", Value: nil})
		}
	}

	return s.findAndModify(ctx, "update", oid, mongo.Pipeline{{{Key: "$set", Value: set}}})
}

func (s *MongoReminderStore) findAndModify(ctx context.Context, op string, oid primitive.ObjectID, update interface{}) (*models.Reminder, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var r models.Reminder
	if err := s.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&r); err != nil {
		return nil, s.mapErr(op, err)
	}
	r.Normalize()
	return &r, nil
}

func (s *MongoReminderStore) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return persistenceError("delete", fmt.Errorf("failed to delete reminder: %w", err))
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoReminderStore) List(ctx context.Context, limit int) ([]*models.Reminder, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, "list", bson.M{}, opts)
}

func (s *MongoReminderStore) ListPending(ctx context.Context, after time.Time) ([]*models.Reminder, error) {
	filter := bson.M{"completed": bson.M{"$ne": true}}
	if !after.IsZero() {
		filter["reminder_time"] = bson.M{"$gt": after.UTC()}
	}
	opts := options.Find().SetSort(bson.D{{Key: "reminder_time", Value: 1}})
	return s.find(ctx, "list_pending", filter, opts)
}

func (s *MongoReminderStore) find(ctx context.Context, op string, filter interface{}, opts *options.FindOptions) ([]*models.Reminder, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, persistenceError(op, fmt.Errorf("failed to query reminders: %w", err))
	}
	defer cursor.Close(ctx)

	var reminders []*models.Reminder
	if err := cursor.All(ctx, &reminders); err != nil {
		return nil, persistenceError(op, fmt.Errorf("failed to decode reminders: %w", err))
	}
	if reminders == nil {
		reminders = []*models.Reminder{}
	}
	for _, r := range reminders {
		r.Normalize()
	}
	return reminders, nil
}

func (s *MongoReminderStore) mapErr(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return persistenceError(op, err)
}
