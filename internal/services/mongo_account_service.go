package services

import (
	"context"
	"crypto/tls"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoAccountService struct {
	client       *mongo.Client
	db           *mongo.Database
	pinsCol      *mongo.Collection
	storiesCol   *mongo.Collection
	favoritesCol *mongo.Collection
	profilesCol  *mongo.Collection
	reportsCol   *mongo.Collection
}

func NewMongoAccountService(ctx context.Context, mongoURI, dbName string) (*MongoAccountService, error) {
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
	return &MongoAccountService{
		client:       client,
		db:           db,
		pinsCol:      db.Collection("pins"),
		storiesCol:   db.Collection("stories"),
		favoritesCol: db.Collection("favorites"),
		profilesCol:  db.Collection("profiles"),
		reportsCol:   db.Collection("pin_reports"),
	}, nil
}

func (s *MongoAccountService) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type DeleteAccountResult struct {
	ImageURLs []string `json:"image_urls"`
	PinIDs    []string `json:"pin_ids"`
}

// DeleteAccount deletes all data associated with the given Firebase UID:
// - profile doc, plus removal of the user from every friend/hide list
// - favorites by user_id
// - pins by creator_id and the stories that held them
// - favorites and reports pointing at those pins (by pin_id)
// It returns Firebase image URLs (pin photos, avatar) to be deleted client-side.
func (s *MongoAccountService) DeleteAccount(ctx context.Context, userID string) (*DeleteAccountResult, error) {
	// Gather image URLs.
	urls := make(map[string]struct{})

	// profile.avatar_url
	{
		var prof struct {
			AvatarURL string `bson:"avatar_url"`
		}
		if err := s.profilesCol.FindOne(ctx, bson.M{"user_id": userID}).Decode(&prof); err == nil {
			if prof.AvatarURL != "" {
				urls[prof.AvatarURL] = struct{}{}
			}
		}
	}

	// pins + photo urls
	type pinDoc struct {
		ID        string   `bson:"_id"`
		ImageURLs []string `bson:"image_urls"`
	}
	pinIDs := make([]string, 0)
	{
		cur, err := s.pinsCol.Find(ctx, bson.M{"creator_id": userID}, options.Find().SetProjection(bson.M{
			"_id":        1,
			"image_urls": 1,
		}))
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var d pinDoc
			if err := cur.Decode(&d); err != nil {
				return nil, err
			}
			pinIDs = append(pinIDs, d.ID)
			for _, u := range d.ImageURLs {
				if u != "" {
					urls[u] = struct{}{}
				}
			}
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
	}

	// Deletes (order matters a bit to avoid leaving dangling pointers)
	// 1) favorites by user_id OR favorites pointing at pin ids being removed
	if len(pinIDs) > 0 {
		_, _ = s.favoritesCol.DeleteMany(ctx, bson.M{
			"$or": []bson.M{
				{"user_id": userID},
				{"pin_id": bson.M{"$in": pinIDs}},
			},
		})
	} else {
		_, _ = s.favoritesCol.DeleteMany(ctx, bson.M{"user_id": userID})
	}

	// 2) reports pointing at those pins
	if len(pinIDs) > 0 {
		_, _ = s.reportsCol.DeleteMany(ctx, bson.M{"pin_id": bson.M{"$in": pinIDs}})
	}

	// 3) stories by creator; other users' stories cannot contain this user's pins
	_, _ = s.storiesCol.DeleteMany(ctx, bson.M{"creator_id": userID})

	// 4) pins by creator
	_, _ = s.pinsCol.DeleteMany(ctx, bson.M{"creator_id": userID})

	// 5) profile, then scrub the user out of everyone else's relation lists
	_, _ = s.profilesCol.DeleteOne(ctx, bson.M{"user_id": userID})
	_, _ = s.profilesCol.UpdateMany(ctx, bson.M{"friend_ids": userID}, bson.M{
		"$pull": bson.M{
			"friend_ids":        userID,
			"hidden_friend_ids": userID,
			"hide_pins_from":    userID,
		},
	})

	// Deduped list
	out := make([]string, 0, len(urls))
	for u := range urls {
		out = append(out, u)
	}

	return &DeleteAccountResult{
		ImageURLs: out,
		PinIDs:    pinIDs,
	}, nil
}

// Helper for handlers that want a sane timeout.
func DefaultAccountTimeout() time.Duration { return 20 * time.Second }
