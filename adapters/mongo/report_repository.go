package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
)

// DefaultReportCollection holds recognized speech and detect texts.
const DefaultReportCollection = "asr_reports"

// ReportRepository writes usage reports to a MongoDB collection.
type ReportRepository struct {
	collection *mongo.Collection
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

// NewReportRepository creates a report repository on collection.
func NewReportRepository(db *mongo.Database, collection string) *ReportRepository {
	if collection == "" {
		collection = DefaultReportCollection
	}
	return &ReportRepository{collection: db.Collection(collection)}
}

// EnsureIndexes creates the lookup index on device and time.
func (r *ReportRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "device_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("device_created"),
	})
	if err != nil {
		return fmt.Errorf("failed to create report index: %w", err)
	}
	return nil
}

// Save implements repositories.ReportRepository
func (r *ReportRepository) Save(ctx context.Context, report *entities.Report) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	if err := report.Validate(); err != nil {
		return err
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if _, err := r.collection.InsertOne(ctx, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// ListByDevice returns the latest reports of a device, newest first.
func (r *ReportRepository) ListByDevice(ctx context.Context, deviceID string, limit int64) ([]*entities.Report, error) {
	if deviceID == "" {
		return nil, errors.New("device ID cannot be empty")
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.collection.Find(ctx, bson.M{"device_id": deviceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []*entities.Report
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}
	return reports, nil
}
