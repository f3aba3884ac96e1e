package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"workpattern/internal/model"
)

const (
	metricsCollection = "calendar_daily_metrics"
	statusCollection  = "integration_status"
)

// Mongo stores metrics in MongoDB. Dates are kept as "YYYY-MM-DD" strings
// so range queries sort lexically.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

type metricsDoc struct {
	UserID    string                `bson:"user_id"`
	Date      string                `bson:"date"`
	Metrics   model.DailyMetrics    `bson:"metrics"`
	RawEvents []model.CalendarEvent `bson:"raw_events"`
	UpdatedAt time.Time             `bson:"updated_at"`
}

// newMetricsDoc splits raw events out of the metrics so the document has
// date and raw_events at the top level.
func newMetricsDoc(userID string, d model.DailyMetrics, updatedAt time.Time) metricsDoc {
	raw := d.RawEvents
	d.RawEvents = nil
	return metricsDoc{
		UserID:    userID,
		Date:      d.Date.String(),
		Metrics:   d,
		RawEvents: raw,
		UpdatedAt: updatedAt,
	}
}

func (doc metricsDoc) dailyMetrics() model.DailyMetrics {
	d := doc.Metrics
	if date, err := model.ParseDate(doc.Date); err == nil {
		d.Date = date
	}
	d.RawEvents = doc.RawEvents
	if d.RawEvents == nil {
		d.RawEvents = []model.CalendarEvent{}
	}
	return d
}

type statusDoc struct {
	UserID        string     `bson:"user_id"`
	Source        string     `bson:"source"`
	State         string     `bson:"state"`
	Message       string     `bson:"message"`
	Events        int        `bson:"events"`
	SyncedAt      time.Time  `bson:"synced_at"`
	LastSuccessAt *time.Time `bson:"last_success_at,omitempty"`
}

// NewMongo connects to uri and selects dbName.
func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Mongo{client: client, db: client.Database(dbName)}, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) UpsertDailyMetrics(ctx context.Context, userID string, days []model.DailyMetrics) error {
	coll := m.db.Collection(metricsCollection)
	now := time.Now().UTC()

	for _, d := range days {
		doc := newMetricsDoc(userID, d, now)
		filter := bson.M{"user_id": userID, "date": doc.Date}
		update := bson.M{"$set": doc}
		if _, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("upsert daily metrics %s: %w", doc.Date, err)
		}
	}
	return nil
}

func (m *Mongo) ListDailyMetrics(ctx context.Context, userID string, from, to model.Date) ([]model.DailyMetrics, error) {
	filter := bson.M{
		"user_id": userID,
		"date":    bson.M{"$gte": from.String(), "$lte": to.String()},
	}
	cur, err := m.db.Collection(metricsCollection).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find daily metrics: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]model.DailyMetrics, 0)
	for cur.Next(ctx) {
		var doc metricsDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode daily metrics: %w", err)
		}
		out = append(out, doc.dailyMetrics())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily metrics: %w", err)
	}
	return out, nil
}

func (m *Mongo) UpdateSyncStatus(ctx context.Context, st model.SyncStatus) error {
	set := bson.M{
		"user_id":   st.UserID,
		"source":    st.Source,
		"state":     string(st.State),
		"message":   st.Message,
		"events":    st.Events,
		"synced_at": st.SyncedAt,
	}
	if st.State == model.SyncConnected {
		set["last_success_at"] = st.SyncedAt
	}

	filter := bson.M{"user_id": st.UserID, "source": st.Source}
	_, err := m.db.Collection(statusCollection).UpdateOne(ctx, filter, bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("update sync status %s/%s: %w", st.UserID, st.Source, err)
	}
	return nil
}

func (m *Mongo) ListSyncStatus(ctx context.Context, userID string) ([]model.SyncStatus, error) {
	cur, err := m.db.Collection(statusCollection).Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "source", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find sync status: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]model.SyncStatus, 0)
	for cur.Next(ctx) {
		var doc statusDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode sync status: %w", err)
		}
		st := model.SyncStatus{
			UserID:   doc.UserID,
			Source:   doc.Source,
			State:    model.SyncState(doc.State),
			Message:  doc.Message,
			Events:   doc.Events,
			SyncedAt: doc.SyncedAt.UTC(),
		}
		if doc.LastSuccessAt != nil {
			st.LastSuccessAt = doc.LastSuccessAt.UTC()
		}
		out = append(out, st)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync status: %w", err)
	}
	return out, nil
}
