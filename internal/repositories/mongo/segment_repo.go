package mongo

import (
	"context"
	"time"

	"github.com/denizyuce/callscribe/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type SegmentRepository interface {
	Insert(ctx context.Context, seg *models.CallSegment) error
	MarkResult(ctx context.Context, connectionID string, seq int64, text string, confidence float64, status string) error
	ListByConnection(ctx context.Context, connectionID string, limit int64) ([]models.CallSegment, error)
}

type segmentRepo struct {
	col *mongo.Collection
}

func NewSegmentRepo(db *mongo.Database) SegmentRepository {
	return &segmentRepo{col: db.Collection("call_segments")}
}

func (r *segmentRepo) Insert(ctx context.Context, seg *models.CallSegment) error {
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, seg)
	return err
}

func (r *segmentRepo) MarkResult(ctx context.Context, connectionID string, seq int64, text string, confidence float64, status string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"connection_id": connectionID, "seq": seq},
		bson.M{"$set": bson.M{
			"text":       text,
			"confidence": confidence,
			"status":     status,
		}},
	)
	return err
}

func (r *segmentRepo) ListByConnection(ctx context.Context, connectionID string, limit int64) ([]models.CallSegment, error) {
	if limit <= 0 {
		limit = 100
	}

	cur, err := r.col.Find(ctx,
		bson.M{"connection_id": connectionID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.CallSegment
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
