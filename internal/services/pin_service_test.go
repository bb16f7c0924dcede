package services

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/models"
)

func newTestPinService(t *testing.T) *PinService {
	t.Helper()
	return NewPinService(nil, zap.NewNop().Sugar())
}

func createPin(t *testing.T, s *PinService, userID, title string) *models.Pin {
	t.Helper()
	pin, err := s.Create(userID, &models.CreatePinRequest{
		Title:    title,
		Date:     "2026-08-30",
		Location: [2]float64{-122.4194, 37.7749},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return pin
}

func TestPinCreate_Defaults(t *testing.T) {
	s := newTestPinService(t)

	pin := createPin(t, s, "alice", "Twin Peaks")
	if pin.ID == "" {
		t.Error("pin has no ID")
	}
	if pin.CreatorID != "alice" {
		t.Errorf("CreatorID = %q, want alice", pin.CreatorID)
	}
	if pin.PinColor != models.PinColors[0] {
		t.Errorf("PinColor = %q, want default %q", pin.PinColor, models.PinColors[0])
	}

	got, err := s.GetByID(pin.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "Twin Peaks" {
		t.Errorf("Title = %q, want Twin Peaks", got.Title)
	}
}

func TestPinUpdate_OwnershipEnforced(t *testing.T) {
	s := newTestPinService(t)
	pin := createPin(t, s, "alice", "Twin Peaks")

	if _, err := s.Update("mallory", pin.ID, &models.UpdatePinRequest{Title: "Hacked"}); err != ErrUnauthorized {
		t.Errorf("update by non-owner: got %v, want ErrUnauthorized", err)
	}
	if _, err := s.Update("alice", "nope", &models.UpdatePinRequest{}); err != ErrPinNotFound {
		t.Errorf("update of missing pin: got %v, want ErrPinNotFound", err)
	}

	updated, err := s.Update("alice", pin.ID, &models.UpdatePinRequest{Title: "Sutro Tower"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Title != "Sutro Tower" {
		t.Errorf("Title = %q, want Sutro Tower", updated.Title)
	}
	if updated.Date != "2026-08-30" {
		t.Errorf("Date = %q, want unchanged", updated.Date)
	}
}

func TestPinUpdate_ExpiryTakenVerbatim(t *testing.T) {
	s := newTestPinService(t)

	future := time.Now().Add(time.Hour).UnixMilli()
	pin, err := s.Create("alice", &models.CreatePinRequest{
		Title:     "Twin Peaks",
		Date:      "2026-08-30",
		Location:  [2]float64{-122.4194, 37.7749},
		ExpiresAt: &future,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// An update without expires_at makes the pin permanent.
	updated, err := s.Update("alice", pin.ID, &models.UpdatePinRequest{Title: "Sutro Tower"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want cleared", *updated.ExpiresAt)
	}

	// And one carrying an expiry sets it back.
	later := time.Now().Add(2 * time.Hour).UnixMilli()
	updated, err = s.Update("alice", pin.ID, &models.UpdatePinRequest{ExpiresAt: &later})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ExpiresAt == nil || *updated.ExpiresAt != later {
		t.Errorf("ExpiresAt = %v, want %d", updated.ExpiresAt, later)
	}
}

func TestPinDelete(t *testing.T) {
	s := newTestPinService(t)
	pin := createPin(t, s, "alice", "Twin Peaks")

	if err := s.Delete("mallory", pin.ID); err != ErrUnauthorized {
		t.Errorf("delete by non-owner: got %v, want ErrUnauthorized", err)
	}
	if err := s.Delete("alice", pin.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.GetByID(pin.ID); err != ErrPinNotFound {
		t.Errorf("GetByID after delete: got %v, want ErrPinNotFound", err)
	}
}

func TestPinPhotos_AddAndRemove(t *testing.T) {
	s := newTestPinService(t)
	pin := createPin(t, s, "alice", "Twin Peaks")

	if _, err := s.AddPhoto("mallory", pin.ID, "https://img/1.jpg"); err != ErrUnauthorized {
		t.Errorf("add photo by non-owner: got %v, want ErrUnauthorized", err)
	}

	updated, err := s.AddPhoto("alice", pin.ID, "https://img/1.jpg")
	if err != nil {
		t.Fatalf("AddPhoto failed: %v", err)
	}
	if len(updated.ImageURLs) != 1 || updated.ImageURLs[0] != "https://img/1.jpg" {
		t.Errorf("ImageURLs = %v, want the added photo", updated.ImageURLs)
	}

	updated, err = s.RemovePhoto("alice", pin.ID, "https://img/1.jpg")
	if err != nil {
		t.Fatalf("RemovePhoto failed: %v", err)
	}
	if len(updated.ImageURLs) != 0 {
		t.Errorf("ImageURLs = %v, want empty", updated.ImageURLs)
	}
}

func TestSnapshot_OrderAndExpiryFilter(t *testing.T) {
	s := newTestPinService(t)

	past := time.Now().Add(-time.Hour).UnixMilli()
	future := time.Now().Add(time.Hour).UnixMilli()

	s.Hydrate([]models.Pin{
		{ID: "c", CreatorID: "alice", CreatedAt: time.Unix(100, 0)},
		{ID: "a", CreatorID: "alice", CreatedAt: time.Unix(300, 0)},
		{ID: "b", CreatorID: "alice", CreatedAt: time.Unix(300, 0)},
		{ID: "gone", CreatorID: "alice", CreatedAt: time.Unix(200, 0), ExpiresAt: &past},
		{ID: "soon", CreatorID: "alice", CreatedAt: time.Unix(200, 0), ExpiresAt: &future},
	})

	snap := s.Snapshot()
	var ids []string
	for _, p := range snap {
		ids = append(ids, p.ID)
	}
	want := []string{"a", "b", "soon", "c"}
	if len(ids) != len(want) {
		t.Fatalf("snapshot ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("snapshot ids = %v, want %v", ids, want)
		}
	}
}

func TestGetByID_ExpiredPinIsGone(t *testing.T) {
	s := newTestPinService(t)

	past := time.Now().Add(-time.Minute).UnixMilli()
	future := time.Now().Add(time.Hour).UnixMilli()
	s.Hydrate([]models.Pin{
		{ID: "dead", CreatorID: "alice", CreatedAt: time.Now(), ExpiresAt: &past},
		{ID: "soon", CreatorID: "alice", CreatedAt: time.Now(), ExpiresAt: &future},
	})

	// Expiry applies on the by-id read immediately, not only after the
	// next purge sweep.
	if _, err := s.GetByID("dead"); err != ErrPinNotFound {
		t.Errorf("expired pin fetch: got %v, want ErrPinNotFound", err)
	}
	if _, err := s.GetByID("soon"); err != nil {
		t.Errorf("unexpired pin fetch failed: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	s := newTestPinService(t)

	past := time.Now().Add(-time.Minute).UnixMilli()
	s.Hydrate([]models.Pin{
		{ID: "live", CreatorID: "alice", CreatedAt: time.Now()},
		{ID: "dead", CreatorID: "alice", CreatedAt: time.Now(), ExpiresAt: &past},
	})

	if removed := s.PurgeExpired(); removed != 1 {
		t.Errorf("PurgeExpired removed %d, want 1", removed)
	}
	if _, err := s.GetByID("dead"); err != ErrPinNotFound {
		t.Errorf("expired pin still present after purge")
	}
	if _, err := s.GetByID("live"); err != nil {
		t.Errorf("live pin removed by purge: %v", err)
	}
}

func TestPinOnChange_SnapshotPerMutation(t *testing.T) {
	s := newTestPinService(t)

	var snapshots [][]models.Pin
	s.OnChange(func(pins []models.Pin) { snapshots = append(snapshots, pins) })

	pin := createPin(t, s, "alice", "Twin Peaks")
	if err := s.Delete("alice", pin.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snapshots))
	}
	if len(snapshots[0]) != 1 || snapshots[0][0].ID != pin.ID {
		t.Errorf("first snapshot = %v, want the created pin", snapshots[0])
	}
	if len(snapshots[1]) != 0 {
		t.Errorf("second snapshot = %v, want empty", snapshots[1])
	}
}

func TestListByBounds(t *testing.T) {
	s := newTestPinService(t)

	s.Hydrate([]models.Pin{
		{ID: "sf", CreatorID: "alice", Location: [2]float64{-122.4194, 37.7749}, CreatedAt: time.Now()},
		{ID: "nyc", CreatorID: "alice", Location: [2]float64{-74.0060, 40.7128}, CreatedAt: time.Now()},
	})

	got := s.ListByBounds(-123, 37, -122, 38)
	if len(got) != 1 || got[0].ID != "sf" {
		t.Errorf("ListByBounds = %v, want only sf", got)
	}
}
