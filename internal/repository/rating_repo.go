package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"keyracer/internal/model"
)

type RatingRepo interface {
	LoadRating(ctx context.Context, userID string) (*model.RatingRecord, error)
	SaveRating(ctx context.Context, rec *model.RatingRecord) error
}

type ratingRepo struct {
	collection *mongo.Collection
}

// NewRatingRepo creates a mongo-backed rating repository.
func NewRatingRepo(db *mongo.Database) RatingRepo {
	return &ratingRepo{collection: db.Collection("ratings")}
}

func (r *ratingRepo) LoadRating(ctx context.Context, userID string) (*model.RatingRecord, error) {
	var rec model.RatingRecord
	err := r.collection.FindOne(ctx, bson.M{"userId": userID}).Decode(&rec)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ratingRepo) SaveRating(ctx context.Context, rec *model.RatingRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"userId": rec.UserID}, rec, opts)
	return err
}
