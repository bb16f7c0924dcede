package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

var (
	ErrStoryNotFound  = errors.New("story not found")
	ErrTooManyStories = errors.New("story limit reached")
	ErrPinNotOwned    = errors.New("story pins must belong to the story's creator")
)

// StoryService is the in-memory story store. Stories reference pins by id;
// creating or updating a story verifies the referenced pins exist and belong
// to the story's creator.
// StoryMirror receives committed story mutations for durable storage.
type StoryMirror interface {
	Save(ctx context.Context, story models.Story) error
	Remove(ctx context.Context, storyID string) error
}

type StoryService struct {
	mu        sync.RWMutex
	stories   map[string]*models.Story
	pins      *PinService
	mirror    StoryMirror
	log       *zap.SugaredLogger
	listeners []func([]models.Story)
}

func NewStoryService(pins *PinService, log *zap.SugaredLogger) *StoryService {
	if log == nil {
		log = zap.S()
	}
	return &StoryService{
		stories: make(map[string]*models.Story),
		pins:    pins,
		log:     log,
	}
}

// OnChange registers a listener that receives the full story snapshot after
// every committed mutation.
func (s *StoryService) OnChange(fn func([]models.Story)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetMirror attaches a durable store that committed mutations are copied to.
func (s *StoryService) SetMirror(m StoryMirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Hydrate replaces the working set, typically with the durable store's
// contents at startup.
func (s *StoryService) Hydrate(stories []models.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories = make(map[string]*models.Story, len(stories))
	for i := range stories {
		s.stories[stories[i].ID] = &stories[i]
	}
	s.commitLocked()
}

func (s *StoryService) mirrorSave(story models.Story) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mirror.Save(ctx, story); err != nil {
			s.log.Warnf("[stories] mirror save failed story=%s: %v", story.ID, err)
		}
	}()
}

func (s *StoryService) mirrorRemove(storyID string) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mirror.Remove(ctx, storyID); err != nil {
			s.log.Warnf("[stories] mirror remove failed story=%s: %v", storyID, err)
		}
	}()
}

func (s *StoryService) Create(userID string, req *models.CreateStoryRequest) (*models.Story, error) {
	if err := s.checkPinOwnership(userID, req.PinIDs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, st := range s.stories {
		if st.CreatorID == userID {
			count++
		}
	}
	if count >= models.MaxStoriesPerUser {
		return nil, ErrTooManyStories
	}

	now := time.Now().UnixMilli()
	story := &models.Story{
		ID:          uuid.New().String(),
		CreatorID:   userID,
		Title:       req.Title,
		Description: req.Description,
		PinIDs:      append([]string(nil), req.PinIDs...),
		CoverPinID:  req.CoverPinID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.stories[story.ID] = story
	s.commitLocked()
	s.mirrorSave(*story)
	return story, nil
}

func (s *StoryService) GetByID(id string) (*models.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	story, exists := s.stories[id]
	if !exists {
		return nil, ErrStoryNotFound
	}
	storyCopy := *story
	return &storyCopy, nil
}

func (s *StoryService) Update(userID, storyID string, req *models.UpdateStoryRequest) (*models.Story, error) {
	if err := s.checkPinOwnership(userID, req.PinIDs); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	story, exists := s.stories[storyID]
	if !exists {
		return nil, ErrStoryNotFound
	}
	if story.CreatorID != userID {
		return nil, ErrUnauthorized
	}

	if req.Title != "" {
		story.Title = req.Title
	}
	story.Description = req.Description
	story.PinIDs = append([]string(nil), req.PinIDs...)
	story.CoverPinID = req.CoverPinID
	story.UpdatedAt = time.Now().UnixMilli()

	s.commitLocked()
	s.mirrorSave(*story)
	storyCopy := *story
	return &storyCopy, nil
}

// Delete removes a story and its pins. Story pins exist only as part of
// their story, so they go down with it.
func (s *StoryService) Delete(userID, storyID string) error {
	s.mu.Lock()

	story, exists := s.stories[storyID]
	if !exists {
		s.mu.Unlock()
		return ErrStoryNotFound
	}
	if story.CreatorID != userID {
		s.mu.Unlock()
		return ErrUnauthorized
	}

	pinIDs := append([]string(nil), story.PinIDs...)
	delete(s.stories, storyID)
	s.commitLocked()
	s.mirrorRemove(storyID)
	s.mu.Unlock()

	if s.pins != nil {
		for _, pinID := range pinIDs {
			if err := s.pins.Delete(userID, pinID); err != nil && err != ErrPinNotFound {
				s.log.Warnf("[stories] failed to delete pin %s for story %s: %v", pinID, storyID, err)
			}
		}
	}
	return nil
}

// ListByCreator returns a user's stories, newest first.
func (s *StoryService) ListByCreator(creatorID string) []models.Story {
	var result []models.Story
	for _, st := range s.Snapshot() {
		if st.CreatorID == creatorID {
			result = append(result, st)
		}
	}
	return result
}

// Snapshot returns all stories, newest first with id tie-break.
func (s *StoryService) Snapshot() []models.Story {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *StoryService) snapshotLocked() []models.Story {
	result := make([]models.Story, 0, len(s.stories))
	for _, st := range s.stories {
		result = append(result, *st)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt == result[j].CreatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt > result[j].CreatedAt
	})
	return result
}

func (s *StoryService) checkPinOwnership(userID string, pinIDs []string) error {
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

func (s *StoryService) commitLocked() {
	snapshot := s.snapshotLocked()
	for _, fn := range s.listeners {
		fn(snapshot)
	}
}
