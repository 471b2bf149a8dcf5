// Package mongostore is the MongoDB DurableStore. Each submission is one
// document in a time-series collection, with measurements embedded as an
// array so pipelines can unwind them by name.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/ports"
)

type Store struct {
	client    *mongo.Client
	telemetry *mongo.Collection
	rollups   *mongo.Collection
}

type measurementDoc struct {
	Name    string   `bson:"name"`
	Numeric *float64 `bson:"numeric_value,omitempty"`
	Text    *string  `bson:"text_value,omitempty"`
}

type recordDoc struct {
	DeviceID     int64             `bson:"device_id"`
	UserID       int64             `bson:"user_id,omitempty"`
	TS           time.Time         `bson:"timestamp"`
	Seq          int64             `bson:"seq"`
	Measurements []measurementDoc  `bson:"measurements"`
	Metadata     map[string]string `bson:"metadata,omitempty"`
}

type rollupDoc struct {
	DeviceID    int64     `bson:"device_id"`
	Measurement string    `bson:"measurement"`
	Aggregation string    `bson:"aggregation"`
	WindowMS    int64     `bson:"window_ms"`
	BucketStart time.Time `bson:"bucket_start"`
	Value       float64   `bson:"value"`
	SampleCount int64     `bson:"sample_count"`
}

func New(uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)

	tsOptions := options.CreateCollection().SetTimeSeriesOptions(
		options.TimeSeries().
			SetTimeField("timestamp").
			SetMetaField("device_id").
			SetGranularity("seconds"),
	)
	// Already-exists errors are fine.
	_ = db.CreateCollection(ctx, "device_data", tsOptions)

	telemetry := db.Collection("device_data")
	_, _ = telemetry.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}}},
	})

	rollups := db.Collection("aggregated_data")
	_, _ = rollups.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "device_id", Value: 1}, {Key: "measurement", Value: 1},
			{Key: "aggregation", Value: 1}, {Key: "window_ms", Value: 1},
			{Key: "bucket_start", Value: 1},
		}},
	})

	return &Store{client: client, telemetry: telemetry, rollups: rollups}, nil
}

func (s *Store) Write(ctx context.Context, rec domain.TelemetryRecord) error {
	doc := recordDoc{
		DeviceID:     rec.DeviceID,
		UserID:       rec.UserID,
		TS:           rec.Instant,
		Seq:          int64(rec.Seq),
		Measurements: make([]measurementDoc, 0, len(rec.Measurements)),
		Metadata:     rec.Metadata,
	}
	for name, v := range rec.Measurements {
		m := measurementDoc{Name: name}
		if v.IsNumber() {
			num := v.Num
			m.Numeric = &num
		} else {
			text := v.Text
			m.Text = &text
		}
		doc.Measurements = append(doc.Measurements, m)
	}

	_, err := s.telemetry.InsertOne(ctx, doc)
	return err
}

func (s *Store) QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]domain.TelemetryRecord, error) {
	filter := bson.M{
		"device_id": deviceID,
		"timestamp": bson.M{"$gte": start, "$lte": end},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.telemetry.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.TelemetryRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (d recordDoc) toRecord() domain.TelemetryRecord {
	rec := domain.TelemetryRecord{
		DeviceID:     d.DeviceID,
		UserID:       d.UserID,
		Instant:      d.TS.UTC(),
		Seq:          uint64(d.Seq),
		Measurements: make(map[string]domain.Value, len(d.Measurements)),
		Metadata:     d.Metadata,
	}
	for _, m := range d.Measurements {
		rec.Measurements[m.Name] = m.value()
	}
	return rec
}

func (m measurementDoc) value() domain.Value {
	if m.Text != nil {
		return domain.Text(*m.Text)
	}
	if m.Numeric != nil {
		return domain.Number(*m.Numeric)
	}
	return domain.Number(0)
}

func (s *Store) QueryLatest(ctx context.Context, deviceID int64) (map[string]domain.MeasurementPoint, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"device_id": deviceID}},
		{"$sort": bson.M{"timestamp": -1, "seq": -1}},
		{"$unwind": "$measurements"},
		{"$group": bson.M{
			"_id":           "$measurements.name",
			"timestamp":     bson.M{"$first": "$timestamp"},
			"numeric_value": bson.M{"$first": "$measurements.numeric_value"},
			"text_value":    bson.M{"$first": "$measurements.text_value"},
		}},
	}

	cursor, err := s.telemetry.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Name    string    `bson:"_id"`
		TS      time.Time `bson:"timestamp"`
		Numeric *float64  `bson:"numeric_value"`
		Text    *string   `bson:"text_value"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	points := make(map[string]domain.MeasurementPoint, len(rows))
	for _, row := range rows {
		points[row.Name] = domain.MeasurementPoint{
			Value:   measurementDoc{Numeric: row.Numeric, Text: row.Text}.value(),
			Instant: row.TS.UTC(),
		}
	}
	return points, nil
}

func (s *Store) QueryUserRange(ctx context.Context, userID int64, start, end time.Time, limit int) ([]domain.UserMeasurementRow, error) {
	pipeline := []bson.M{
		{"$match": bson.M{
			"user_id":   userID,
			"timestamp": bson.M{"$gte": start, "$lte": end},
		}},
		{"$sort": bson.M{"timestamp": -1, "seq": -1}},
		{"$unwind": "$measurements"},
		{"$limit": limit},
	}

	cursor, err := s.telemetry.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		DeviceID    int64          `bson:"device_id"`
		TS          time.Time      `bson:"timestamp"`
		Measurement measurementDoc `bson:"measurements"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.UserMeasurementRow, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.UserMeasurementRow{
			DeviceID:    d.DeviceID,
			Instant:     d.TS.UTC(),
			Measurement: d.Measurement.Name,
			Value:       d.Measurement.value(),
		})
	}
	return out, nil
}

func (s *Store) CountUserRange(ctx context.Context, userID int64, start time.Time) (int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"user_id": userID, "timestamp": bson.M{"$gte": start}}},
		{"$unwind": "$measurements"},
		{"$count": "count"},
	}

	cursor, err := s.telemetry.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

func (s *Store) ScanMeasurement(ctx context.Context, deviceID int64, measurement string, start, end time.Time, fn func(at time.Time, v domain.Value) error) error {
	filter := bson.M{
		"device_id":         deviceID,
		"measurements.name": measurement,
		"timestamp":         bson.M{"$gte": start, "$lt": end},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}})

	cursor, err := s.telemetry.Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var d recordDoc
		if err := cursor.Decode(&d); err != nil {
			return err
		}
		for _, m := range d.Measurements {
			if m.Name != measurement {
				continue
			}
			if err := fn(d.TS.UTC(), m.value()); err != nil {
				return err
			}
		}
	}
	return cursor.Err()
}

func (s *Store) Delete(ctx context.Context, deviceID int64, start, end time.Time) (int64, error) {
	res, err := s.telemetry.DeleteMany(ctx, bson.M{
		"device_id": deviceID,
		"timestamp": bson.M{"$gte": start, "$lte": end},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) WriteRollup(ctx context.Context, b domain.AggregationBucket) error {
	filter := bson.M{
		"device_id":    b.DeviceID,
		"measurement":  b.Measurement,
		"aggregation":  string(b.Kind),
		"window_ms":    b.Window.Milliseconds(),
		"bucket_start": b.BucketStart,
	}
	doc := rollupDoc{
		DeviceID:    b.DeviceID,
		Measurement: b.Measurement,
		Aggregation: string(b.Kind),
		WindowMS:    b.Window.Milliseconds(),
		BucketStart: b.BucketStart,
		Value:       b.Value,
		SampleCount: b.SampleCount,
	}

	_, err := s.rollups.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) ReadRollups(ctx context.Context, deviceID int64, measurement string, kind domain.AggregationKind, window time.Duration, start, end time.Time) ([]domain.AggregationBucket, error) {
	filter := bson.M{
		"device_id":    deviceID,
		"measurement":  measurement,
		"aggregation":  string(kind),
		"window_ms":    window.Milliseconds(),
		"bucket_start": bson.M{"$gte": start, "$lt": end},
	}
	opts := options.Find().SetSort(bson.D{{Key: "bucket_start", Value: 1}})

	cursor, err := s.rollups.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []rollupDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.AggregationBucket, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.AggregationBucket{
			DeviceID:    d.DeviceID,
			Measurement: d.Measurement,
			Kind:        domain.AggregationKind(d.Aggregation),
			Window:      time.Duration(d.WindowMS) * time.Millisecond,
			BucketStart: d.BucketStart.UTC(),
			Value:       d.Value,
			SampleCount: d.SampleCount,
		})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ ports.DurableStore = (*Store)(nil)
