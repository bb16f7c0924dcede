package services

import (
	"context"
	"crypto/tls"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

// MongoPinService is the persistent pin store. The in-memory PinService
// remains the read path the map pipeline feeds from; this service is the
// system of record for multi-node deployments and the expiry worker.
type MongoPinService struct {
	client   *mongo.Client
	db       *mongo.Database
	pinsColl *mongo.Collection
	log      *zap.SugaredLogger
}

type mongoGeoPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"` // [lng, lat]
}

type mongoPinDoc struct {
	ID           string        `bson:"_id"`
	CreatorID    string        `bson:"creator_id"`
	Title        string        `bson:"title"`
	Date         string        `bson:"date"`
	Longitude    float64       `bson:"longitude"`
	Latitude     float64       `bson:"latitude"`
	LocationName string        `bson:"location_name"`
	ImageURLs    []string      `bson:"image_urls,omitempty"`
	PinColor     string        `bson:"pin_color"`
	ExpiresAt    *int64        `bson:"expires_at"`
	CreatedAt    time.Time     `bson:"created_at"`
	Location     mongoGeoPoint `bson:"location"`
}

func NewMongoPinService(ctx context.Context, mongoURI, dbName string, log *zap.SugaredLogger) (*MongoPinService, error) {
	// Atlas occasionally fails TLS negotiation in some environments unless we force TLS 1.2.
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
	if log == nil {
		log = zap.S()
	}

	db := client.Database(dbName)
	pins := db.Collection("pins")

	svc := &MongoPinService{
		client:   client,
		db:       db,
		pinsColl: pins,
		log:      log,
	}

	// Best-effort indexes.
	_, _ = pins.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "creator_id", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "latitude", Value: 1}, {Key: "longitude", Value: 1}}},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	})

	log.Infof("[mongo] pins collection connected: db=%s", dbName)
	return svc, nil
}

func (s *MongoPinService) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func pinDocToModel(d mongoPinDoc) *models.Pin {
	return &models.Pin{
		ID:           d.ID,
		CreatorID:    d.CreatorID,
		Title:        d.Title,
		Date:         d.Date,
		Location:     [2]float64{d.Longitude, d.Latitude},
		LocationName: d.LocationName,
		ImageURLs:    d.ImageURLs,
		PinColor:     d.PinColor,
		ExpiresAt:    d.ExpiresAt,
		CreatedAt:    d.CreatedAt,
	}
}

func pinModelToDoc(p models.Pin) mongoPinDoc {
	return mongoPinDoc{
		ID:           p.ID,
		CreatorID:    p.CreatorID,
		Title:        p.Title,
		Date:         p.Date,
		Longitude:    p.Location[0],
		Latitude:     p.Location[1],
		LocationName: p.LocationName,
		ImageURLs:    p.ImageURLs,
		PinColor:     p.PinColor,
		ExpiresAt:    p.ExpiresAt,
		CreatedAt:    p.CreatedAt,
		Location: mongoGeoPoint{
			Type:        "Point",
			Coordinates: []float64{p.Location[0], p.Location[1]},
		},
	}
}

// Save upserts a full pin document by id. This is the write-through target
// for the in-memory store's mirror.
func (s *MongoPinService) Save(ctx context.Context, pin models.Pin) error {
	_, err := s.pinsColl.ReplaceOne(ctx,
		bson.M{"_id": pin.ID},
		pinModelToDoc(pin),
		options.Replace().SetUpsert(true),
	)
	return err
}

// Remove deletes a pin document by id, regardless of creator.
func (s *MongoPinService) Remove(ctx context.Context, pinID string) error {
	_, err := s.pinsColl.DeleteOne(ctx, bson.M{"_id": pinID})
	return err
}

func (s *MongoPinService) GetByID(id string) (*models.Pin, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc mongoPinDoc
	if err := s.pinsColl.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrPinNotFound
		}
		return nil, err
	}
	pin := pinDocToModel(doc)
	// Expired pins linger until the worker's purge; never serve them.
	if pin.Expired(time.Now()) {
		return nil, ErrPinNotFound
	}
	return pin, nil
}

func (s *MongoPinService) Delete(userID, pinID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Ensure ownership.
	var doc mongoPinDoc
	if err := s.pinsColl.FindOne(ctx, bson.M{"_id": pinID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return ErrPinNotFound
		}
		return err
	}
	if doc.CreatorID != userID {
		return ErrUnauthorized
	}

	_, err := s.pinsColl.DeleteOne(ctx, bson.M{"_id": pinID})
	return err
}

// ListAll returns every unexpired pin, newest first.
func (s *MongoPinService) ListAll(ctx context.Context) ([]models.Pin, error) {
	return s.list(ctx, bson.M{})
}

func (s *MongoPinService) list(ctx context.Context, filter bson.M) ([]models.Pin, error) {
	now := time.Now().UnixMilli()
	filter["$or"] = bson.A{
		bson.M{"expires_at": nil},
		bson.M{"expires_at": bson.M{"$gte": now}},
	}

	cur, err := s.pinsColl.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []models.Pin
	for cur.Next(ctx) {
		var doc mongoPinDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, *pinDocToModel(doc))
	}
	return result, cur.Err()
}

// RemovePhotoIfMatches pulls an image URL from a pin's photo list. Used by
// moderation when a previously approved photo is struck down.
func (s *MongoPinService) RemovePhotoIfMatches(ctx context.Context, pinID, imageURL string) error {
	if pinID == "" || imageURL == "" {
		return nil
	}
	_, err := s.pinsColl.UpdateOne(ctx, bson.M{"_id": pinID}, bson.M{
		"$pull": bson.M{"image_urls": imageURL},
	})
	return err
}

// ApprovePendingPhoto swaps a pending upload path for its approved download
// URL on whichever pin references it.
func (s *MongoPinService) ApprovePendingPhoto(ctx context.Context, pendingPath, approvedURL string) error {
	if pendingPath == "" || approvedURL == "" {
		return nil
	}
	_, err := s.pinsColl.UpdateMany(ctx, bson.M{"image_urls": pendingPath}, bson.M{
		"$set": bson.M{"image_urls.$": approvedURL},
	})
	return err
}

// RejectPendingPhoto drops a pending upload path from any pin referencing it.
func (s *MongoPinService) RejectPendingPhoto(ctx context.Context, pendingPath string) error {
	if pendingPath == "" {
		return nil
	}
	_, err := s.pinsColl.UpdateMany(ctx, bson.M{"image_urls": pendingPath}, bson.M{
		"$pull": bson.M{"image_urls": pendingPath},
	})
	return err
}

// FindExpired returns pins whose expiry has passed, oldest expiry first,
// capped at limit. Used by the expiry worker to purge in batches.
func (s *MongoPinService) FindExpired(ctx context.Context, limit int64) ([]models.Pin, error) {
	now := time.Now().UnixMilli()
	filter := bson.M{
		"expires_at": bson.M{"$ne": nil, "$lt": now},
	}

	cur, err := s.pinsColl.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []models.Pin
	for cur.Next(ctx) {
		var doc mongoPinDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, *pinDocToModel(doc))
	}
	return result, cur.Err()
}

// PurgeExpired deletes all pins whose expiry has passed and returns the
// number removed.
func (s *MongoPinService) PurgeExpired(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.pinsColl.DeleteMany(ctx, bson.M{
		"expires_at": bson.M{"$ne": nil, "$lt": now},
	})
	if err != nil {
		return 0, err
	}
	if res.DeletedCount > 0 {
		s.log.Infof("[mongo] purged %d expired pins", res.DeletedCount)
	}
	return res.DeletedCount, nil
}
