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
	"github.com/trailmark/backend/internal/storage"
)

var (
	ErrPinNotFound  = errors.New("pin not found")
	ErrUnauthorized = errors.New("unauthorized to modify this pin")
)

// PinService is the in-memory pin store. All mutation goes through the
// add/update/delete methods below under one lock, so a consumer never
// observes a half-applied change. Every committed mutation hands a fresh
// snapshot to the registered listeners (the map pipeline among them).
// PinMirror receives committed pin mutations for durable storage. Mirror
// writes are best-effort and asynchronous; the in-memory state is the one
// views render from.
type PinMirror interface {
	Save(ctx context.Context, pin models.Pin) error
	Remove(ctx context.Context, pinID string) error
}

type PinService struct {
	mu        sync.RWMutex
	pins      map[string]*models.Pin
	store     *storage.JSONStore // optional persistence, nil in tests
	mirror    PinMirror
	log       *zap.SugaredLogger
	listeners []func([]models.Pin)
}

func NewPinService(store *storage.JSONStore, log *zap.SugaredLogger) *PinService {
	if log == nil {
		log = zap.S()
	}
	s := &PinService{
		pins:  make(map[string]*models.Pin),
		store: store,
		log:   log,
	}
	if store != nil {
		var saved []models.Pin
		if err := store.Load(&saved); err != nil {
			log.Warnf("[pins] failed to load persisted pins: %v", err)
		}
		for i := range saved {
			s.pins[saved[i].ID] = &saved[i]
		}
	}
	return s
}

// OnChange registers a listener that receives the full pin snapshot after
// every committed mutation. Listeners are called synchronously in
// registration order.
func (s *PinService) OnChange(fn func([]models.Pin)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SetMirror attaches a durable store that committed mutations are copied to.
func (s *PinService) SetMirror(m PinMirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Hydrate replaces the working set, typically with the durable store's
// contents at startup.
func (s *PinService) Hydrate(pins []models.Pin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = make(map[string]*models.Pin, len(pins))
	for i := range pins {
		s.pins[pins[i].ID] = &pins[i]
	}
	s.commitLocked()
}

func (s *PinService) mirrorSave(pin models.Pin) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mirror.Save(ctx, pin); err != nil {
			s.log.Warnf("[pins] mirror save failed pin=%s: %v", pin.ID, err)
		}
	}()
}

func (s *PinService) mirrorRemove(pinID string) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mirror.Remove(ctx, pinID); err != nil {
			s.log.Warnf("[pins] mirror remove failed pin=%s: %v", pinID, err)
		}
	}()
}

func (s *PinService) Create(userID string, req *models.CreatePinRequest) (*models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	color := req.PinColor
	if color == "" {
		color = models.PinColors[0]
	}
	pin := &models.Pin{
		ID:           uuid.New().String(),
		CreatorID:    userID,
		Title:        req.Title,
		Date:         req.Date,
		Location:     req.Location,
		LocationName: req.LocationName,
		ImageURLs:    req.ImageURLs,
		PinColor:     color,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    time.Now(),
	}

	s.pins[pin.ID] = pin
	s.commitLocked()
	s.mirrorSave(*pin)
	return pin, nil
}

func (s *PinService) GetByID(id string) (*models.Pin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pin, exists := s.pins[id]
	if !exists {
		return nil, ErrPinNotFound
	}
	// An expired pin is gone from every read path, not just the map,
	// even before the next purge sweep removes it.
	if pin.Expired(time.Now()) {
		return nil, ErrPinNotFound
	}
	pinCopy := *pin
	return &pinCopy, nil
}

func (s *PinService) Update(userID, pinID string, req *models.UpdatePinRequest) (*models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pin, exists := s.pins[pinID]
	if !exists {
		return nil, ErrPinNotFound
	}
	if pin.CreatorID != userID {
		return nil, ErrUnauthorized
	}

	if req.Title != "" {
		pin.Title = req.Title
	}
	if req.Date != "" {
		pin.Date = req.Date
	}
	if req.Location != nil {
		pin.Location = *req.Location
	}
	if req.LocationName != "" {
		pin.LocationName = req.LocationName
	}
	if req.PinColor != "" {
		pin.PinColor = req.PinColor
	}
	// ExpiresAt is taken verbatim: clients send the pin's full expiry state
	// on every update, so an absent expires_at means "make it permanent",
	// not "leave it alone".
	pin.ExpiresAt = req.ExpiresAt

	s.commitLocked()
	s.mirrorSave(*pin)
	pinCopy := *pin
	return &pinCopy, nil
}

func (s *PinService) Delete(userID, pinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pin, exists := s.pins[pinID]
	if !exists {
		return ErrPinNotFound
	}
	if pin.CreatorID != userID {
		return ErrUnauthorized
	}

	delete(s.pins, pinID)
	s.commitLocked()
	s.mirrorRemove(pinID)
	return nil
}

func (s *PinService) AddPhoto(userID, pinID, url string) (*models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pin, exists := s.pins[pinID]
	if !exists {
		return nil, ErrPinNotFound
	}
	if pin.CreatorID != userID {
		return nil, ErrUnauthorized
	}

	pin.ImageURLs = append(pin.ImageURLs, url)
	s.commitLocked()
	s.mirrorSave(*pin)
	pinCopy := *pin
	return &pinCopy, nil
}

func (s *PinService) RemovePhoto(userID, pinID, url string) (*models.Pin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pin, exists := s.pins[pinID]
	if !exists {
		return nil, ErrPinNotFound
	}
	if pin.CreatorID != userID {
		return nil, ErrUnauthorized
	}

	kept := pin.ImageURLs[:0]
	for _, u := range pin.ImageURLs {
		if u != url {
			kept = append(kept, u)
		}
	}
	pin.ImageURLs = kept
	s.commitLocked()
	s.mirrorSave(*pin)
	pinCopy := *pin
	return &pinCopy, nil
}

// Snapshot returns all unexpired pins, newest first. Expired pins are
// filtered out here so views never see them even between sweeps.
func (s *PinService) Snapshot() []models.Pin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// ListByCreator returns a creator's unexpired pins, newest first.
func (s *PinService) ListByCreator(creatorID string) []models.Pin {
	var result []models.Pin
	for _, p := range s.Snapshot() {
		if p.CreatorID == creatorID {
			result = append(result, p)
		}
	}
	return result
}

// ListByBounds returns all unexpired pins within a geographic bounding box.
func (s *PinService) ListByBounds(minLng, minLat, maxLng, maxLat float64) []models.Pin {
	var result []models.Pin
	for _, p := range s.Snapshot() {
		lng, lat := p.Location[0], p.Location[1]
		if lng >= minLng && lng <= maxLng && lat >= minLat && lat <= maxLat {
			result = append(result, p)
		}
	}
	return result
}

// PurgeExpired removes pins whose expiry has passed and returns how many
// were removed. Run periodically so pins that expire while the process sits
// idle still disappear and get cleaned up.
func (s *PinService) PurgeExpired() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for id, p := range s.pins {
		if p.Expired(now) {
			delete(s.pins, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Infof("[pins] purged %d expired pins", removed)
		s.commitLocked()
	}
	return removed
}

// snapshotLocked builds the filtered, ordered snapshot. Order is CreatedAt
// descending with id as tie-break so identical states produce identical
// slices.
func (s *PinService) snapshotLocked() []models.Pin {
	now := time.Now()
	result := make([]models.Pin, 0, len(s.pins))
	for _, p := range s.pins {
		if p.Expired(now) {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// commitLocked persists the current state and notifies listeners. Callers
// hold the write lock.
func (s *PinService) commitLocked() {
	snapshot := s.snapshotLocked()
	if s.store != nil {
		all := make([]models.Pin, 0, len(s.pins))
		for _, p := range s.pins {
			all = append(all, *p)
		}
		if err := s.store.Save(all); err != nil {
			s.log.Warnf("[pins] failed to persist pins: %v", err)
		}
	}
	for _, fn := range s.listeners {
		fn(snapshot)
	}
}
