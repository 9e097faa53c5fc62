package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"keyracer/internal/model"
)

// ResultRepo persists race outcomes. Terminal sessions become one
// result row per participant plus a session document; active sessions
// get a checkpoint upsert so a crash loses at most the delta since
// the last sweep.
type ResultRepo interface {
	SaveSessionResult(ctx context.Context, session *model.RaceSession) error
	SaveCheckpoint(ctx context.Context, session *model.RaceSession) error
	GetSessionResult(ctx context.Context, roomID string) (*model.RaceSession, error)
	GetUserResults(ctx context.Context, userID string, limit int) ([]model.RaceResult, error)
}

type resultRepo struct {
	sessions    *mongo.Collection
	results     *mongo.Collection
	checkpoints *mongo.Collection
}

// NewResultRepo creates a mongo-backed result repository.
func NewResultRepo(db *mongo.Database) ResultRepo {
	return &resultRepo{
		sessions:    db.Collection("race_sessions"),
		results:     db.Collection("race_results"),
		checkpoints: db.Collection("race_checkpoints"),
	}
}

func (r *resultRepo) SaveSessionResult(ctx context.Context, session *model.RaceSession) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.sessions.ReplaceOne(ctx, bson.M{"roomId": session.RoomID}, session, opts); err != nil {
		return err
	}

	// Abandoned sessions keep the session doc for audit but produce no
	// leaderboard source rows.
	if session.Status != model.RaceFinished {
		return r.dropCheckpoint(ctx, session.RoomID)
	}

	ranking := session.FinalRanking()
	docs := make([]interface{}, 0, len(ranking))
	for _, row := range ranking {
		docs = append(docs, model.RaceResult{
			RoomID:     session.RoomID,
			UserID:     row.UserID,
			Username:   row.Username,
			Language:   session.Language,
			Rank:       row.Rank,
			WPM:        row.WPM,
			Accuracy:   row.Accuracy,
			CharsTyped: row.CharsTyped,
			Finished:   row.Finished,
			RacedAt:    time.Now(),
		})
	}
	if len(docs) > 0 {
		// Results are keyed per room+user; delete-then-insert keeps a
		// retried flush from doubling rows.
		if _, err := r.results.DeleteMany(ctx, bson.M{"roomId": session.RoomID}); err != nil {
			return err
		}
		if _, err := r.results.InsertMany(ctx, docs); err != nil {
			return err
		}
	}
	return r.dropCheckpoint(ctx, session.RoomID)
}

func (r *resultRepo) SaveCheckpoint(ctx context.Context, session *model.RaceSession) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.checkpoints.ReplaceOne(ctx, bson.M{"roomId": session.RoomID}, session, opts)
	return err
}

func (r *resultRepo) dropCheckpoint(ctx context.Context, roomID string) error {
	_, err := r.checkpoints.DeleteOne(ctx, bson.M{"roomId": roomID})
	return err
}

func (r *resultRepo) GetSessionResult(ctx context.Context, roomID string) (*model.RaceSession, error) {
	var session model.RaceSession
	err := r.sessions.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&session)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *resultRepo) GetUserResults(ctx context.Context, userID string, limit int) ([]model.RaceResult, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "racedAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.results.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []model.RaceResult
	if err := cur.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}
