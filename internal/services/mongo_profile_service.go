package services

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trailmark/backend/internal/mapview"
	"github.com/trailmark/backend/internal/models"
)

type MongoProfileService struct {
	client      *mongo.Client
	db          *mongo.Database
	profilesCol *mongo.Collection
}

func NewMongoProfileService(ctx context.Context, mongoURI, dbName string) (*MongoProfileService, error) {
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
	col := db.Collection("profiles")

	// Best-effort indexes.
	_, _ = col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "friend_ids", Value: 1}}},
	})

	return &MongoProfileService{
		client:      client,
		db:          db,
		profilesCol: col,
	}, nil
}

func (s *MongoProfileService) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoProfileService) GetByUserID(ctx context.Context, userID string) (*models.Profile, error) {
	var prof models.Profile
	if err := s.profilesCol.FindOne(ctx, bson.M{"user_id": userID}).Decode(&prof); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &prof, nil
}

// GetOrCreate returns the user's profile, creating an empty one if missing.
// Email is kept in sync with Firebase Auth when provided.
func (s *MongoProfileService) GetOrCreate(ctx context.Context, userID string, email string) (*models.Profile, error) {
	now := time.Now()

	var prof models.Profile
	err := s.profilesCol.FindOne(ctx, bson.M{"user_id": userID}).Decode(&prof)
	if err == nil {
		if email != "" && prof.Email == "" {
			_, _ = s.profilesCol.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
				"$set": bson.M{"email": email, "updated_at": now},
			})
			prof.Email = email
			prof.UpdatedAt = now
		}
		return &prof, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	prof = models.Profile{
		UserID:    userID,
		Email:     email,
		UpdatedAt: now,
	}
	_, err = s.profilesCol.InsertOne(ctx, prof)
	if err != nil {
		// If a race created it, fetch again.
		var retry models.Profile
		if err2 := s.profilesCol.FindOne(ctx, bson.M{"user_id": userID}).Decode(&retry); err2 == nil {
			return &retry, nil
		}
		return nil, err
	}
	return &prof, nil
}

func (s *MongoProfileService) Upsert(ctx context.Context, userID string, email string, req *models.UpsertProfileRequest) (*models.Profile, error) {
	now := time.Now()

	set := bson.M{
		"updated_at": now,
	}
	if email != "" {
		set["email"] = email
	}
	if req.Username != nil {
		set["username"] = *req.Username
	}
	if req.Bio != nil {
		set["bio"] = *req.Bio
	}
	if req.AvatarURL != nil {
		set["avatar_url"] = *req.AvatarURL
	}
	if req.PinColor != nil {
		set["pin_color"] = *req.PinColor
	}

	_, err := s.profilesCol.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": set, "$setOnInsert": bson.M{"user_id": userID}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, err
	}

	var prof models.Profile
	if err := s.profilesCol.FindOne(ctx, bson.M{"user_id": userID}).Decode(&prof); err != nil {
		return nil, err
	}
	return &prof, nil
}

// AddFriend records a symmetric friendship on both profiles.
func (s *MongoProfileService) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return ErrSelfFriend
	}
	now := time.Now()

	if _, err := s.profilesCol.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$addToSet":    bson.M{"friend_ids": friendID},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"user_id": userID},
		},
		options.Update().SetUpsert(true),
	); err != nil {
		return err
	}
	_, err := s.profilesCol.UpdateOne(
		ctx,
		bson.M{"user_id": friendID},
		bson.M{
			"$addToSet":    bson.M{"friend_ids": userID},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"user_id": friendID},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// RemoveFriend dissolves the friendship on both sides and clears any hide
// state the pair held against each other.
func (s *MongoProfileService) RemoveFriend(ctx context.Context, userID, friendID string) error {
	now := time.Now()

	if _, err := s.profilesCol.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{
		"$pull": bson.M{
			"friend_ids":        friendID,
			"hidden_friend_ids": friendID,
			"hide_pins_from":    friendID,
		},
		"$set": bson.M{"updated_at": now},
	}); err != nil {
		return err
	}
	_, err := s.profilesCol.UpdateOne(ctx, bson.M{"user_id": friendID}, bson.M{
		"$pull": bson.M{
			"friend_ids":        userID,
			"hidden_friend_ids": userID,
			"hide_pins_from":    userID,
		},
		"$set": bson.M{"updated_at": now},
	})
	return err
}

// SetFriendHidden toggles whether friendID's pins appear on userID's map.
func (s *MongoProfileService) SetFriendHidden(ctx context.Context, userID, friendID string, hidden bool) error {
	return s.toggleList(ctx, userID, "hidden_friend_ids", friendID, hidden)
}

// SetHidePinsFrom toggles whether friendID can see userID's pins.
func (s *MongoProfileService) SetHidePinsFrom(ctx context.Context, userID, friendID string, hidden bool) error {
	return s.toggleList(ctx, userID, "hide_pins_from", friendID, hidden)
}

// SetPinHidden toggles a single pin on userID's hidden-pin list.
func (s *MongoProfileService) SetPinHidden(ctx context.Context, userID, pinID string, hidden bool) error {
	return s.toggleList(ctx, userID, "hidden_pin_ids", pinID, hidden)
}

func (s *MongoProfileService) toggleList(ctx context.Context, userID, field, value string, add bool) error {
	now := time.Now()

	update := bson.M{"$set": bson.M{"updated_at": now}}
	if add {
		update["$addToSet"] = bson.M{field: value}
	} else {
		update["$pull"] = bson.M{field: value}
	}

	res, err := s.profilesCol.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// VisibilityFor assembles the viewer's map relations: their friend list, the
// creators whose pins are hidden from them (either side may have hidden), and
// their individually hidden pins.
func (s *MongoProfileService) VisibilityFor(ctx context.Context, viewerID string) (mapview.Relations, error) {
	rel := mapview.Relations{ViewerID: viewerID}

	prof, err := s.GetByUserID(ctx, viewerID)
	if err != nil {
		if err == ErrProfileNotFound {
			return rel, nil
		}
		return rel, err
	}

	rel.FriendIDs = append(rel.FriendIDs, prof.FriendIDs...)
	rel.HiddenPinIDs = append(rel.HiddenPinIDs, prof.HiddenPinIDs...)

	hidden := make(map[string]struct{})
	for _, id := range prof.HiddenFriendIDs {
		hidden[id] = struct{}{}
	}

	// Friends who opted out of sharing with this viewer.
	if len(prof.FriendIDs) > 0 {
		cur, err := s.profilesCol.Find(ctx, bson.M{
			"user_id":        bson.M{"$in": prof.FriendIDs},
			"hide_pins_from": viewerID,
		})
		if err != nil {
			return rel, err
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var friend models.Profile
			if err := cur.Decode(&friend); err != nil {
				return rel, err
			}
			hidden[friend.UserID] = struct{}{}
		}
		if err := cur.Err(); err != nil {
			return rel, err
		}
	}

	for id := range hidden {
		rel.HiddenByCreators = append(rel.HiddenByCreators, id)
	}
	return rel, nil
}

// SearchByUsername finds profiles whose username starts with the query,
// case-insensitive, capped at limit.
func (s *MongoProfileService) SearchByUsername(ctx context.Context, query string, limit int64) ([]models.PublicProfile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	cur, err := s.profilesCol.Find(ctx,
		bson.M{"username": bson.M{"$regex": "^" + escapeRegex(query), "$options": "i"}},
		options.Find().SetLimit(limit).SetSort(bson.D{{Key: "username", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []models.PublicProfile
	for cur.Next(ctx) {
		var prof models.Profile
		if err := cur.Decode(&prof); err != nil {
			return nil, err
		}
		result = append(result, prof.Public())
	}
	return result, cur.Err()
}

// ClearAvatarIfMatches clears avatar_url if it matches the provided URL.
func (s *MongoProfileService) ClearAvatarIfMatches(ctx context.Context, userID string, url string) error {
	if userID == "" || url == "" {
		return nil
	}
	_, err := s.profilesCol.UpdateOne(ctx, bson.M{"user_id": userID, "avatar_url": url}, bson.M{
		"$set": bson.M{"avatar_url": ""},
	})
	return err
}

// ApprovePendingAvatar swaps a pending upload path for its approved download
// URL on whichever profile references it.
func (s *MongoProfileService) ApprovePendingAvatar(ctx context.Context, pendingPath, approvedURL string) error {
	if pendingPath == "" || approvedURL == "" {
		return nil
	}
	_, err := s.profilesCol.UpdateMany(ctx, bson.M{"avatar_url": pendingPath}, bson.M{
		"$set": bson.M{"avatar_url": approvedURL},
	})
	return err
}

// RejectPendingAvatar clears a pending avatar path from any profile.
func (s *MongoProfileService) RejectPendingAvatar(ctx context.Context, pendingPath string) error {
	if pendingPath == "" {
		return nil
	}
	_, err := s.profilesCol.UpdateMany(ctx, bson.M{"avatar_url": pendingPath}, bson.M{
		"$set": bson.M{"avatar_url": ""},
	})
	return err
}

// MongoRelationSource adapts MongoProfileService to the synchronous relation
// lookup the map layer wants. Lookup errors degrade to an empty relation set
// for the viewer, which hides friend pins rather than leaking them.
type MongoRelationSource struct {
	Profiles *MongoProfileService
	Timeout  time.Duration
}

func (rs *MongoRelationSource) VisibilityFor(viewerID string) mapview.Relations {
	timeout := rs.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rel, err := rs.Profiles.VisibilityFor(ctx, viewerID)
	if err != nil {
		return mapview.Relations{ViewerID: viewerID}
	}
	return rel
}

func escapeRegex(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$`, r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
