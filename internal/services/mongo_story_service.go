package services

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

type MongoStoryService struct {
	client      *mongo.Client
	db          *mongo.Database
	storiesColl *mongo.Collection
	pins        *MongoPinService
	log         *zap.SugaredLogger
}

type mongoStoryDoc struct {
	ID          string   `bson:"_id"`
	CreatorID   string   `bson:"creator_id"`
	Title       string   `bson:"title"`
	Description string   `bson:"description,omitempty"`
	PinIDs      []string `bson:"pin_ids"`
	CoverPinID  string   `bson:"cover_pin_id,omitempty"`
	CreatedAt   int64    `bson:"created_at"`
	UpdatedAt   int64    `bson:"updated_at"`
}

func NewMongoStoryService(ctx context.Context, mongoURI, dbName string, pins *MongoPinService, log *zap.SugaredLogger) (*MongoStoryService, error) {
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
	stories := db.Collection("stories")

	svc := &MongoStoryService{
		client:      client,
		db:          db,
		storiesColl: stories,
		pins:        pins,
		log:         log,
	}

	// Best-effort indexes.
	_, _ = stories.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "creator_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "pin_ids", Value: 1}}},
	})

	return svc, nil
}

func (s *MongoStoryService) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func storyDocToModel(d mongoStoryDoc) *models.Story {
	return &models.Story{
		ID:          d.ID,
		CreatorID:   d.CreatorID,
		Title:       d.Title,
		Description: d.Description,
		PinIDs:      d.PinIDs,
		CoverPinID:  d.CoverPinID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func storyModelToDoc(st models.Story) mongoStoryDoc {
	return mongoStoryDoc{
		ID:          st.ID,
		CreatorID:   st.CreatorID,
		Title:       st.Title,
		Description: st.Description,
		PinIDs:      st.PinIDs,
		CoverPinID:  st.CoverPinID,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}

// Save upserts a full story document by id. This is the write-through target
// for the in-memory store's mirror.
func (s *MongoStoryService) Save(ctx context.Context, story models.Story) error {
	_, err := s.storiesColl.ReplaceOne(ctx,
		bson.M{"_id": story.ID},
		storyModelToDoc(story),
		options.Replace().SetUpsert(true),
	)
	return err
}

// Remove deletes a story document by id, regardless of creator.
func (s *MongoStoryService) Remove(ctx context.Context, storyID string) error {
	_, err := s.storiesColl.DeleteOne(ctx, bson.M{"_id": storyID})
	return err
}

func (s *MongoStoryService) Create(userID string, req *models.CreateStoryRequest) (*models.Story, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.checkPinOwnership(ctx, userID, req.PinIDs); err != nil {
		return nil, err
	}

	count, err := s.storiesColl.CountDocuments(ctx, bson.M{"creator_id": userID})
	if err != nil {
		return nil, err
	}
	if count >= models.MaxStoriesPerUser {
		return nil, ErrTooManyStories
	}

	now := time.Now().UnixMilli()
	doc := mongoStoryDoc{
		ID:          uuid.New().String(),
		CreatorID:   userID,
		Title:       req.Title,
		Description: req.Description,
		PinIDs:      req.PinIDs,
		CoverPinID:  req.CoverPinID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.storiesColl.InsertOne(ctx, doc); err != nil {
		return nil, err
	}
	return storyDocToModel(doc), nil
}

func (s *MongoStoryService) GetByID(id string) (*models.Story, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc mongoStoryDoc
	if err := s.storiesColl.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrStoryNotFound
		}
		return nil, err
	}
	return storyDocToModel(doc), nil
}

func (s *MongoStoryService) Update(userID, storyID string, req *models.UpdateStoryRequest) (*models.Story, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.checkPinOwnership(ctx, userID, req.PinIDs); err != nil {
		return nil, err
	}

	set := bson.M{
		"description":  req.Description,
		"pin_ids":      req.PinIDs,
		"cover_pin_id": req.CoverPinID,
		"updated_at":   time.Now().UnixMilli(),
	}
	if req.Title != "" {
		set["title"] = req.Title
	}

	res := s.storiesColl.FindOneAndUpdate(
		ctx,
		bson.M{"_id": storyID, "creator_id": userID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var updated mongoStoryDoc
	if err := res.Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			// Distinguish not found vs unauthorized.
			var exists mongoStoryDoc
			if err2 := s.storiesColl.FindOne(ctx, bson.M{"_id": storyID}).Decode(&exists); err2 == mongo.ErrNoDocuments {
				return nil, ErrStoryNotFound
			}
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return storyDocToModel(updated), nil
}

// Delete removes a story and its pins. Story pins exist only as part of
// their story.
func (s *MongoStoryService) Delete(userID, storyID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var doc mongoStoryDoc
	if err := s.storiesColl.FindOne(ctx, bson.M{"_id": storyID}).Decode(&doc); err != nil {
		if err == mongo.ErrNoDocuments {
			return ErrStoryNotFound
		}
		return err
	}
	if doc.CreatorID != userID {
		return ErrUnauthorized
	}

	if _, err := s.storiesColl.DeleteOne(ctx, bson.M{"_id": storyID}); err != nil {
		return err
	}

	if s.pins != nil {
		for _, pinID := range doc.PinIDs {
			if err := s.pins.Delete(userID, pinID); err != nil && err != ErrPinNotFound {
				s.log.Warnf("[mongo] failed to delete pin %s for story %s: %v", pinID, storyID, err)
			}
		}
	}
	return nil
}

// ListByCreator returns a user's stories, newest first.
func (s *MongoStoryService) ListByCreator(ctx context.Context, creatorID string) ([]models.Story, error) {
	cur, err := s.storiesColl.Find(ctx, bson.M{"creator_id": creatorID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []models.Story
	for cur.Next(ctx) {
		var doc mongoStoryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, *storyDocToModel(doc))
	}
	return result, cur.Err()
}

// ListAll returns every story, newest first. Feeds the map pipeline's story
// index.
func (s *MongoStoryService) ListAll(ctx context.Context) ([]models.Story, error) {
	cur, err := s.storiesColl.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var result []models.Story
	for cur.Next(ctx) {
		var doc mongoStoryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, *storyDocToModel(doc))
	}
	return result, cur.Err()
}

func (s *MongoStoryService) checkPinOwnership(ctx context.Context, userID string, pinIDs []string) error {
	if s.pins == nil {
		return nil
	}
	for _, pinID := range pinIDs {
		pin, err := s.pins.GetByID(pinID)
		if err != nil {
			return ErrPinNotFound
		}
		if pin.CreatorID != userID {
			return ErrPinNotOwned
		}
	}
	return nil
}
