package services

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/mapview"
	"github.com/trailmark/backend/internal/models"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrAlreadyFriends  = errors.New("already friends")
	ErrNotFriends      = errors.New("not friends")
	ErrSelfFriend      = errors.New("cannot friend yourself")
)

// ProfileService is the in-memory profile and relationship store. Friendships
// are symmetric; the hide lists are per-profile and one-directional.
type ProfileService struct {
	mu        sync.RWMutex
	profiles  map[string]*models.Profile
	log       *zap.SugaredLogger
	listeners []func(userID string)
}

func NewProfileService(log *zap.SugaredLogger) *ProfileService {
	if log == nil {
		log = zap.S()
	}
	return &ProfileService{
		profiles: make(map[string]*models.Profile),
		log:      log,
	}
}

// OnChange registers a listener invoked with the id of every profile whose
// relation state changed. Consumers rebuild their Relations from it.
func (s *ProfileService) OnChange(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// GetOrCreate returns the user's profile, creating an empty one if missing.
func (s *ProfileService) GetOrCreate(userID, email string) *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof := s.getOrCreateLocked(userID)
	if email != "" && prof.Email == "" {
		prof.Email = email
		prof.UpdatedAt = time.Now()
	}
	profCopy := *prof
	return &profCopy
}

func (s *ProfileService) Upsert(userID string, req *models.UpsertProfileRequest) *models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	prof := s.getOrCreateLocked(userID)
	if req.Username != nil {
		prof.Username = *req.Username
	}
	if req.Bio != nil {
		prof.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		prof.AvatarURL = *req.AvatarURL
	}
	if req.PinColor != nil {
		prof.PinColor = *req.PinColor
	}
	prof.UpdatedAt = time.Now()
	profCopy := *prof
	return &profCopy
}

// AddFriend records a symmetric friendship between the two users.
func (s *ProfileService) AddFriend(userID, friendID string) error {
	if userID == friendID {
		return ErrSelfFriend
	}

	s.mu.Lock()

	user := s.getOrCreateLocked(userID)
	friend := s.getOrCreateLocked(friendID)
	if contains(user.FriendIDs, friendID) {
		s.mu.Unlock()
		return ErrAlreadyFriends
	}
	user.FriendIDs = append(user.FriendIDs, friendID)
	friend.FriendIDs = append(friend.FriendIDs, userID)
	now := time.Now()
	user.UpdatedAt = now
	friend.UpdatedAt = now

	notify := s.notifyLocked(userID, friendID)
	s.mu.Unlock()
	notify()
	return nil
}

// RemoveFriend dissolves the friendship on both sides and clears any hide
// state the pair held against each other.
func (s *ProfileService) RemoveFriend(userID, friendID string) error {
	s.mu.Lock()

	user := s.getOrCreateLocked(userID)
	friend := s.getOrCreateLocked(friendID)
	if !contains(user.FriendIDs, friendID) {
		s.mu.Unlock()
		return ErrNotFriends
	}
	user.FriendIDs = remove(user.FriendIDs, friendID)
	friend.FriendIDs = remove(friend.FriendIDs, userID)
	user.HiddenFriendIDs = remove(user.HiddenFriendIDs, friendID)
	user.HidePinsFrom = remove(user.HidePinsFrom, friendID)
	friend.HiddenFriendIDs = remove(friend.HiddenFriendIDs, userID)
	friend.HidePinsFrom = remove(friend.HidePinsFrom, userID)
	now := time.Now()
	user.UpdatedAt = now
	friend.UpdatedAt = now

	notify := s.notifyLocked(userID, friendID)
	s.mu.Unlock()
	notify()
	return nil
}

// SetFriendHidden toggles a friend on the viewer's hidden-friends list
// (viewer-side: "I don't want to see their pins").
func (s *ProfileService) SetFriendHidden(userID, friendID string, hidden bool) {
	s.mu.Lock()

	prof := s.getOrCreateLocked(userID)
	prof.HiddenFriendIDs = toggle(prof.HiddenFriendIDs, friendID, hidden)
	prof.UpdatedAt = time.Now()

	notify := s.notifyLocked(userID)
	s.mu.Unlock()
	notify()
}

// SetHidePinsFrom toggles a friend on the creator's privacy list
// (creator-side: "they don't get to see my pins").
func (s *ProfileService) SetHidePinsFrom(userID, friendID string, hidden bool) {
	s.mu.Lock()

	prof := s.getOrCreateLocked(userID)
	prof.HidePinsFrom = toggle(prof.HidePinsFrom, friendID, hidden)
	prof.UpdatedAt = time.Now()

	// The friend is the one whose map changes.
	notify := s.notifyLocked(userID, friendID)
	s.mu.Unlock()
	notify()
}

// SetPinHidden toggles a single pin on the viewer's hidden-pins list.
func (s *ProfileService) SetPinHidden(userID, pinID string, hidden bool) {
	s.mu.Lock()

	prof := s.getOrCreateLocked(userID)
	prof.HiddenPinIDs = toggle(prof.HiddenPinIDs, pinID, hidden)
	prof.UpdatedAt = time.Now()

	notify := s.notifyLocked(userID)
	s.mu.Unlock()
	notify()
}

// VisibilityFor assembles the viewer's map visibility relations: their
// friends, the creators whose pins they must not see (either because the
// creator hid pins from them or because they hid that friend themselves)
// and their locally hidden pins.
func (s *ProfileService) VisibilityFor(viewerID string) mapview.Relations {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel := mapview.Relations{ViewerID: viewerID}
	viewer, exists := s.profiles[viewerID]
	if !exists {
		return rel
	}
	rel.FriendIDs = append([]string(nil), viewer.FriendIDs...)
	rel.HiddenPinIDs = append([]string(nil), viewer.HiddenPinIDs...)

	hidden := append([]string(nil), viewer.HiddenFriendIDs...)
	for _, friendID := range viewer.FriendIDs {
		friend, ok := s.profiles[friendID]
		if !ok {
			continue
		}
		if contains(friend.HidePinsFrom, viewerID) && !contains(hidden, friendID) {
			hidden = append(hidden, friendID)
		}
	}
	rel.HiddenByCreators = hidden
	return rel
}

func (s *ProfileService) getOrCreateLocked(userID string) *models.Profile {
	prof, exists := s.profiles[userID]
	if !exists {
		prof = &models.Profile{
			UserID:    userID,
			PinColor:  models.PinColors[0],
			UpdatedAt: time.Now(),
		}
		s.profiles[userID] = prof
	}
	return prof
}

// notifyLocked snapshots the listener set under the lock and returns the
// call that delivers the notifications. The caller must release the lock
// before invoking it: listeners are free to read back into the service.
func (s *ProfileService) notifyLocked(userIDs ...string) func() {
	fns := append(([]func(string))(nil), s.listeners...)
	return func() {
		for _, fn := range fns {
			for _, id := range userIDs {
				fn(id)
			}
		}
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return kept
}

func toggle(ids []string, id string, on bool) []string {
	if on {
		if contains(ids, id) {
			return ids
		}
		return append(ids, id)
	}
	return remove(ids, id)
}
