package services

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/mapview"
	"github.com/trailmark/backend/internal/models"
)

func newTestProfileService(t *testing.T) *ProfileService {
	t.Helper()
	return NewProfileService(zap.NewNop().Sugar())
}

func TestAddFriend_Symmetric(t *testing.T) {
	s := newTestProfileService(t)

	if err := s.AddFriend("alice", "bob"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}

	if rel := s.VisibilityFor("alice"); len(rel.FriendIDs) != 1 || rel.FriendIDs[0] != "bob" {
		t.Errorf("alice's friends = %v, want [bob]", rel.FriendIDs)
	}
	if rel := s.VisibilityFor("bob"); len(rel.FriendIDs) != 1 || rel.FriendIDs[0] != "alice" {
		t.Errorf("bob's friends = %v, want [alice]", rel.FriendIDs)
	}
}

func TestAddFriend_Errors(t *testing.T) {
	s := newTestProfileService(t)

	if err := s.AddFriend("alice", "alice"); err != ErrSelfFriend {
		t.Errorf("self friend: got %v, want ErrSelfFriend", err)
	}

	if err := s.AddFriend("alice", "bob"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}
	if err := s.AddFriend("alice", "bob"); err != ErrAlreadyFriends {
		t.Errorf("duplicate friend: got %v, want ErrAlreadyFriends", err)
	}
	if err := s.AddFriend("bob", "alice"); err != ErrAlreadyFriends {
		t.Errorf("duplicate friend reversed: got %v, want ErrAlreadyFriends", err)
	}
}

func TestRemoveFriend_ClearsHideState(t *testing.T) {
	s := newTestProfileService(t)

	if err := s.AddFriend("alice", "bob"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}
	s.SetFriendHidden("alice", "bob", true)
	s.SetHidePinsFrom("bob", "alice", true)

	if err := s.RemoveFriend("alice", "bob"); err != nil {
		t.Fatalf("RemoveFriend failed: %v", err)
	}

	rel := s.VisibilityFor("alice")
	if len(rel.FriendIDs) != 0 {
		t.Errorf("alice still has friends: %v", rel.FriendIDs)
	}
	if len(rel.HiddenByCreators) != 0 {
		t.Errorf("stale hide state survived unfriending: %v", rel.HiddenByCreators)
	}

	if err := s.RemoveFriend("alice", "bob"); err != ErrNotFriends {
		t.Errorf("removing a non-friend: got %v, want ErrNotFriends", err)
	}
}

func TestVisibilityFor_MergesBothHideDirections(t *testing.T) {
	s := newTestProfileService(t)

	for _, friend := range []string{"bob", "carol", "dave"} {
		if err := s.AddFriend("alice", friend); err != nil {
			t.Fatalf("AddFriend(%s) failed: %v", friend, err)
		}
	}

	// Alice hides bob's pins from herself; carol hides hers from alice.
	s.SetFriendHidden("alice", "bob", true)
	s.SetHidePinsFrom("carol", "alice", true)
	s.SetPinHidden("alice", "pin-9", true)

	rel := s.VisibilityFor("alice")
	hidden := map[string]bool{}
	for _, id := range rel.HiddenByCreators {
		hidden[id] = true
	}
	if !hidden["bob"] || !hidden["carol"] {
		t.Errorf("HiddenByCreators = %v, want bob and carol", rel.HiddenByCreators)
	}
	if hidden["dave"] {
		t.Errorf("dave wrongly hidden: %v", rel.HiddenByCreators)
	}
	if len(rel.HiddenPinIDs) != 1 || rel.HiddenPinIDs[0] != "pin-9" {
		t.Errorf("HiddenPinIDs = %v, want [pin-9]", rel.HiddenPinIDs)
	}

	// Toggling back off clears the entries.
	s.SetFriendHidden("alice", "bob", false)
	s.SetPinHidden("alice", "pin-9", false)
	rel = s.VisibilityFor("alice")
	for _, id := range rel.HiddenByCreators {
		if id == "bob" {
			t.Errorf("bob still hidden after toggle off: %v", rel.HiddenByCreators)
		}
	}
	if len(rel.HiddenPinIDs) != 0 {
		t.Errorf("HiddenPinIDs not cleared: %v", rel.HiddenPinIDs)
	}
}

func TestGetOrCreate_DefaultPinColor(t *testing.T) {
	s := newTestProfileService(t)

	prof := s.GetOrCreate("alice", "alice@example.com")
	if prof.PinColor != models.PinColors[0] {
		t.Errorf("PinColor = %q, want default %q", prof.PinColor, models.PinColors[0])
	}
}

func TestVisibilityFor_UnknownViewer(t *testing.T) {
	s := newTestProfileService(t)

	rel := s.VisibilityFor("ghost")
	if rel.ViewerID != "ghost" || len(rel.FriendIDs) != 0 {
		t.Errorf("unknown viewer relations = %+v, want empty", rel)
	}
}

func TestOnChange_FiresForBothSidesOfFriendship(t *testing.T) {
	s := newTestProfileService(t)

	var notified []string
	s.OnChange(func(userID string) { notified = append(notified, userID) })

	if err := s.AddFriend("alice", "bob"); err != nil {
		t.Fatalf("AddFriend failed: %v", err)
	}

	seen := map[string]bool{}
	for _, id := range notified {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("notifications %v, want both alice and bob", notified)
	}

	// Hiding my pins from a friend changes the friend's map.
	notified = nil
	s.SetHidePinsFrom("alice", "bob", true)
	seen = map[string]bool{}
	for _, id := range notified {
		seen[id] = true
	}
	if !seen["bob"] {
		t.Errorf("notifications %v, want bob included", notified)
	}
}

// The live map wires a listener that resolves relations for the changed
// user, so listeners must be able to read back into the service without
// wedging the mutation that triggered them.
func TestOnChange_ListenerMayReadBackIntoService(t *testing.T) {
	s := newTestProfileService(t)

	var rels []mapview.Relations
	s.OnChange(func(userID string) {
		rels = append(rels, s.VisibilityFor(userID))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.AddFriend("alice", "bob"); err != nil {
			t.Errorf("AddFriend failed: %v", err)
		}
		s.SetFriendHidden("alice", "bob", true)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutation never returned: listener blocked on the profile lock")
	}

	if len(rels) != 3 {
		t.Fatalf("got %d relation reads, want 3 (both friends, then the hider)", len(rels))
	}
	last := rels[len(rels)-1]
	if last.ViewerID != "alice" || !contains(last.HiddenByCreators, "bob") {
		t.Errorf("listener saw %+v, want post-mutation state with bob hidden", last)
	}
}

func TestUpsert_PartialUpdates(t *testing.T) {
	s := newTestProfileService(t)

	name := "wanderer"
	bio := "hills and coastlines"
	s.Upsert("alice", &models.UpsertProfileRequest{Username: &name, Bio: &bio})

	prof := s.GetOrCreate("alice", "alice@example.com")
	if prof.Username != name || prof.Bio != bio {
		t.Errorf("profile = %+v, want username and bio set", prof)
	}
	if prof.Email != "alice@example.com" {
		t.Errorf("email = %q, want backfilled from auth", prof.Email)
	}

	// A later upsert with only a bio must not clear the username.
	newBio := "mostly coastlines"
	s.Upsert("alice", &models.UpsertProfileRequest{Bio: &newBio})
	prof = s.GetOrCreate("alice", "")
	if prof.Username != name {
		t.Errorf("username = %q, want unchanged %q", prof.Username, name)
	}
	if prof.Bio != newBio {
		t.Errorf("bio = %q, want %q", prof.Bio, newBio)
	}
}
