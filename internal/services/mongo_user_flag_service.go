package services

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trailmark/backend/internal/models"
)

// MongoUserFlagService tracks moderation strikes and user-filed pin reports.
type MongoUserFlagService struct {
	client  *mongo.Client
	db      *mongo.Database
	col     *mongo.Collection
	reports *mongo.Collection
}

func NewMongoUserFlagService(ctx context.Context, mongoURI, dbName string) (*MongoUserFlagService, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS12,
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI).SetTLSConfig(tlsCfg))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	db := client.Database(dbName)
	col := db.Collection("user_flags")
	reports := db.Collection("pin_reports")

	_, _ = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = reports.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pin_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})

	return &MongoUserFlagService{client: client, db: db, col: col, reports: reports}, nil
}

func (s *MongoUserFlagService) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// AddStrike increments the strike counter for the user and returns the updated record.
func (s *MongoUserFlagService) AddStrike(ctx context.Context, userID string) (*models.UserFlag, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$inc":         bson.M{"strikes": 1},
		"$set":         bson.M{"last_strike_at": now, "updated_at": now},
		"$setOnInsert": bson.M{"user_id": userID},
	}

	_, err := s.col.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return nil, err
	}

	var out models.UserFlag
	if err := s.col.FindOne(ctx, bson.M{"user_id": userID}).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFlags returns the user's flag record, or a zero record if none exists.
func (s *MongoUserFlagService) GetFlags(ctx context.Context, userID string) (*models.UserFlag, error) {
	var out models.UserFlag
	err := s.col.FindOne(ctx, bson.M{"user_id": userID}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return &models.UserFlag{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateReport files a report against a pin.
func (s *MongoUserFlagService) CreateReport(ctx context.Context, reporterID string, req *models.CreateReportRequest) (*models.PinReport, error) {
	report := models.PinReport{
		ID:         uuid.New().String(),
		PinID:      req.PinID,
		ReporterID: reporterID,
		Reason:     req.Reason,
		Details:    req.Details,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.reports.InsertOne(ctx, report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListReportsForPin returns reports filed against a pin, newest first.
func (s *MongoUserFlagService) ListReportsForPin(ctx context.Context, pinID string) ([]models.PinReport, error) {
	cur, err := s.reports.Find(ctx, bson.M{"pin_id": pinID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []models.PinReport
	for cur.Next(ctx) {
		var r models.PinReport
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, cur.Err()
}
