package services

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trailmark/backend/internal/models"
)

var ErrFavoriteBadInput = errors.New("favorite service: missing configuration")

type MongoFavoriteService struct {
	client       *mongo.Client
	db           *mongo.Database
	favoritesCol *mongo.Collection
	pins         *MongoPinService
}

type mongoFavoriteDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	PinID     string    `bson:"pin_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func NewMongoFavoriteService(
	ctx context.Context,
	mongoURI string,
	dbName string,
	pins *MongoPinService,
) (*MongoFavoriteService, error) {
	if mongoURI == "" || dbName == "" {
		return nil, ErrFavoriteBadInput
	}

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
	favs := db.Collection("favorites")

	svc := &MongoFavoriteService{
		client:       client,
		db:           db,
		favoritesCol: favs,
		pins:         pins,
	}

	// Best-effort indexes: one favorite per (user, pin).
	_, _ = favs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "pin_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})

	return svc, nil
}

func (s *MongoFavoriteService) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoFavoriteService) AddFavorite(userID, pinID string) (*models.Favorite, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.pins != nil {
		if _, err := s.pins.GetByID(pinID); err != nil {
			return nil, ErrPinNotFound
		}
	}

	doc := mongoFavoriteDoc{
		ID:        uuid.New().String(),
		UserID:    userID,
		PinID:     pinID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.favoritesCol.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrAlreadyFavorited
		}
		return nil, err
	}

	return &models.Favorite{
		ID:        doc.ID,
		UserID:    doc.UserID,
		PinID:     doc.PinID,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *MongoFavoriteService) RemoveFavorite(userID, pinID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.favoritesCol.DeleteOne(ctx, bson.M{"user_id": userID, "pin_id": pinID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrFavoriteNotFound
	}
	return nil
}

func (s *MongoFavoriteService) ListUserFavorites(userID string) ([]models.FavoriteWithPin, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cur, err := s.favoritesCol.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	result := make([]models.FavoriteWithPin, 0)
	for cur.Next(ctx) {
		var doc mongoFavoriteDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		fav := models.Favorite{
			ID:        doc.ID,
			UserID:    doc.UserID,
			PinID:     doc.PinID,
			CreatedAt: doc.CreatedAt,
		}
		if s.pins == nil {
			result = append(result, models.FavoriteWithPin{Favorite: fav})
			continue
		}
		pin, err := s.pins.GetByID(doc.PinID)
		if err != nil {
			// Pin deleted or expired out from under the favorite.
			continue
		}
		if pin.Expired(time.Now()) {
			continue
		}
		result = append(result, models.FavoriteWithPin{Favorite: fav, Pin: *pin})
	}
	return result, cur.Err()
}

func (s *MongoFavoriteService) IsFavorited(userID, pinID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := s.favoritesCol.CountDocuments(ctx, bson.M{"user_id": userID, "pin_id": pinID})
	return err == nil && count > 0
}
