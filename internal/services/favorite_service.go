package services

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailmark/backend/internal/models"
)

var (
	ErrFavoriteNotFound = errors.New("favorite not found")
	ErrAlreadyFavorited = errors.New("pin already favorited")
)

// FavoriteService is the in-memory bucket-list store: pins a user saved to
// revisit later.
type FavoriteService struct {
	mu            sync.RWMutex
	favorites     map[string]*models.Favorite  // favoriteID -> favorite
	userFavorites map[string]map[string]string // userID -> pinID -> favoriteID
	pins          *PinService
}

func NewFavoriteService(pins *PinService) *FavoriteService {
	return &FavoriteService{
		favorites:     make(map[string]*models.Favorite),
		userFavorites: make(map[string]map[string]string),
		pins:          pins,
	}
}

func (s *FavoriteService) AddFavorite(userID, pinID string) (*models.Favorite, error) {
	if s.pins != nil {
		if _, err := s.pins.GetByID(pinID); err != nil {
			return nil, ErrPinNotFound
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if userFavs, exists := s.userFavorites[userID]; exists {
		if _, exists := userFavs[pinID]; exists {
			return nil, ErrAlreadyFavorited
		}
	}

	favorite := &models.Favorite{
		ID:        uuid.New().String(),
		UserID:    userID,
		PinID:     pinID,
		CreatedAt: time.Now(),
	}

	s.favorites[favorite.ID] = favorite
	if s.userFavorites[userID] == nil {
		s.userFavorites[userID] = make(map[string]string)
	}
	s.userFavorites[userID][pinID] = favorite.ID

	return favorite, nil
}

func (s *FavoriteService) RemoveFavorite(userID, pinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userFavs, exists := s.userFavorites[userID]
	if !exists {
		return ErrFavoriteNotFound
	}

	favoriteID, exists := userFavs[pinID]
	if !exists {
		return ErrFavoriteNotFound
	}

	delete(s.favorites, favoriteID)
	delete(s.userFavorites[userID], pinID)

	return nil
}

// ListUserFavorites returns the user's saved pins with pin data attached.
// Favorites whose pin has since expired or been deleted are skipped.
func (s *FavoriteService) ListUserFavorites(userID string) ([]models.FavoriteWithPin, error) {
	s.mu.RLock()
	favs := make([]models.Favorite, 0)
	if userFavs, exists := s.userFavorites[userID]; exists {
		for _, favoriteID := range userFavs {
			if fav, ok := s.favorites[favoriteID]; ok {
				favs = append(favs, *fav)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(favs, func(i, j int) bool {
		return favs[i].CreatedAt.After(favs[j].CreatedAt)
	})

	result := make([]models.FavoriteWithPin, 0, len(favs))
	for _, fav := range favs {
		if s.pins == nil {
			result = append(result, models.FavoriteWithPin{Favorite: fav})
			continue
		}
		pin, err := s.pins.GetByID(fav.PinID)
		if err != nil {
			continue
		}
		if pin.Expired(time.Now()) {
			continue
		}
		result = append(result, models.FavoriteWithPin{Favorite: fav, Pin: *pin})
	}
	return result, nil
}

func (s *FavoriteService) IsFavorited(userID, pinID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userFavs, exists := s.userFavorites[userID]
	if !exists {
		return false
	}

	_, exists = userFavs[pinID]
	return exists
}
