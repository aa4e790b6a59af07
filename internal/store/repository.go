package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crisiswatch/pkg/errors"
	"crisiswatch/pkg/models"
)

// EventQuery narrows a read over the event log. Zero-value fields are not
// applied. Limit is clamped by the repository.
type EventQuery struct {
	From              time.Time
	To                time.Time
	Platform          string
	EventType         models.EventType
	ExcludeDuplicates bool
	Limit             int64
}

type Repository interface {
	InsertEvents(ctx context.Context, events []models.MonitoringEvent) error
	QueryEvents(ctx context.Context, q EventQuery) ([]models.MonitoringEvent, error)
	CountEvents(ctx context.Context, from, to time.Time) (int64, error)
	SimilarityCandidates(ctx context.Context, platform string, since time.Time, limit int64) ([]models.MonitoringEvent, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	InsertAlert(ctx context.Context, alert models.CrisisAlert) error
	GetAlert(ctx context.Context, id string) (*models.CrisisAlert, error)
	ActiveAlerts(ctx context.Context) ([]models.CrisisAlert, error)
	TransitionAlert(ctx context.Context, id string, from, to models.AlertStatus, actor string) (*models.CrisisAlert, error)
}

type MongoDBRepository struct {
	events *mongo.Collection
	alerts *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &MongoDBRepository{
		events: db.Collection("events"),
		alerts: db.Collection("alerts"),
	}
}

// InsertEvents writes a batch unordered so one duplicate key does not abort
// the rest. Duplicate key errors are swallowed: the idempotence cache fails
// open, so the _id index is the last line of defense and a collision there
// just means the event was already stored.
func (r *MongoDBRepository) InsertEvents(ctx context.Context, events []models.MonitoringEvent) error {
	if len(events) == 0 {
		return nil
	}

	docs := make([]interface{}, len(events))
	for i, e := range events {
		docs[i] = e
	}

	opts := options.InsertMany().SetOrdered(false)
	if _, err := r.events.InsertMany(ctx, docs, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		if bwe, ok := err.(mongo.BulkWriteException); ok {
			allDuplicates := true
			for _, we := range bwe.WriteErrors {
				if we.Code != 11000 {
					allDuplicates = false
					break
				}
			}
			if allDuplicates {
				return nil
			}
		}
		return errors.ErrPersistence.WithCause(fmt.Errorf("failed to insert events: %w", err))
	}

	return nil
}

func (r *MongoDBRepository) QueryEvents(ctx context.Context, q EventQuery) ([]models.MonitoringEvent, error) {
	filter := bson.M{}

	timeFilter := bson.M{}
	if !q.From.IsZero() {
		timeFilter["$gte"] = q.From
	}
	if !q.To.IsZero() {
		timeFilter["$lt"] = q.To
	}
	if len(timeFilter) > 0 {
		filter["occurred_at"] = timeFilter
	}
	if q.Platform != "" {
		filter["platform"] = q.Platform
	}
	if q.EventType != "" {
		filter["event_type"] = q.EventType
	}
	if q.ExcludeDuplicates {
		filter["is_duplicate"] = false
	}

	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := r.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to query events: %w", err))
	}
	defer cursor.Close(ctx)

	var events []models.MonitoringEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to decode events: %w", err))
	}

	return events, nil
}

func (r *MongoDBRepository) CountEvents(ctx context.Context, from, to time.Time) (int64, error) {
	filter := bson.M{
		"occurred_at":  bson.M{"$gte": from, "$lt": to},
		"is_duplicate": false,
	}

	count, err := r.events.CountDocuments(ctx, filter)
	if err != nil {
		return 0, errors.ErrPersistence.WithCause(fmt.Errorf("failed to count events: %w", err))
	}

	return count, nil
}

// SimilarityCandidates returns the most recent non-duplicate events on the
// given platform since the given instant, newest first. A syndicated story on
// another platform is a distinct event, so candidates never cross platforms.
// The cap bounds the per-event comparison cost regardless of how busy the
// window was.
func (r *MongoDBRepository) SimilarityCandidates(ctx context.Context, platform string, since time.Time, limit int64) ([]models.MonitoringEvent, error) {
	filter := bson.M{
		"platform":     platform,
		"occurred_at":  bson.M{"$gte": since},
		"is_duplicate": false,
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to query similarity candidates: %w", err))
	}
	defer cursor.Close(ctx)

	var events []models.MonitoringEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to decode similarity candidates: %w", err))
	}

	return events, nil
}

func (r *MongoDBRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.events.DeleteMany(ctx, bson.M{"occurred_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, errors.ErrPersistence.WithCause(fmt.Errorf("failed to delete expired events: %w", err))
	}

	return result.DeletedCount, nil
}

func (r *MongoDBRepository) InsertAlert(ctx context.Context, alert models.CrisisAlert) error {
	if _, err := r.alerts.InsertOne(ctx, alert); err != nil {
		return errors.ErrPersistence.WithCause(fmt.Errorf("failed to insert alert: %w", err))
	}
	return nil
}

func (r *MongoDBRepository) GetAlert(ctx context.Context, id string) (*models.CrisisAlert, error) {
	var alert models.CrisisAlert
	err := r.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&alert)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.ErrNotFound.WithDetail("message", fmt.Sprintf("alert %s not found", id))
		}
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to get alert: %w", err))
	}
	return &alert, nil
}

func (r *MongoDBRepository) ActiveAlerts(ctx context.Context) ([]models.CrisisAlert, error) {
	filter := bson.M{"status": bson.M{"$in": []models.AlertStatus{
		models.AlertStatusActive,
		models.AlertStatusAcknowledged,
	}}}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.alerts.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to query active alerts: %w", err))
	}
	defer cursor.Close(ctx)

	var alerts []models.CrisisAlert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to decode alerts: %w", err))
	}

	return alerts, nil
}

// TransitionAlert compare-and-sets the alert status. The filter matches on
// (id, from) so two concurrent transitions cannot both win; the loser sees
// the current status and gets an invalid transition error.
func (r *MongoDBRepository) TransitionAlert(ctx context.Context, id string, from, to models.AlertStatus, actor string) (*models.CrisisAlert, error) {
	now := time.Now().UTC()

	set := bson.M{
		"status":     to,
		"updated_at": now,
	}
	switch to {
	case models.AlertStatusAcknowledged:
		set["acknowledged_by"] = actor
	case models.AlertStatusResolved:
		set["resolved_by"] = actor
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.CrisisAlert
	err := r.alerts.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		opts,
	).Decode(&updated)

	if err == nil {
		return &updated, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, errors.ErrPersistence.WithCause(fmt.Errorf("failed to transition alert: %w", err))
	}

	// Either the alert does not exist or it was not in the expected status.
	current, getErr := r.GetAlert(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, errors.ErrInvalidTransition.WithDetail("message",
		fmt.Sprintf("alert %s is %s, cannot move %s -> %s", id, current.Status, from, to))
}
