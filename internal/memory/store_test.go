package memory

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestUpsertProfileMergePatch(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProfile("u1", &ProfilePatch{Name: strPtr("Alice"), Age: intPtr(30)}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertProfile("u1", &ProfilePatch{Age: intPtr(31), Home: strPtr("Shanghai")}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	p, err := s.GetProfile("u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Name != "Alice" {
		t.Errorf("Name = %q, want Alice preserved across patch", p.Name)
	}
	if p.Age != 31 {
		t.Errorf("Age = %d, want 31", p.Age)
	}
	if p.Home != "Shanghai" {
		t.Errorf("Home = %q, want Shanghai", p.Home)
	}
}

func TestUpsertProfileEmptyPatchIsNoop(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProfile("u1", &ProfilePatch{}); err != nil {
		t.Fatalf("empty patch: %v", err)
	}
	if err := s.UpsertProfile("u1", nil); err != nil {
		t.Fatalf("nil patch: %v", err)
	}
	if _, err := s.GetProfile("u1"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("GetProfile err = %v, want ErrProfileNotFound", err)
	}
}

func TestUpsertProfileListFields(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProfile("u1", &ProfilePatch{Interests: []string{"hiking", "go"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertProfile("u1", &ProfilePatch{PersonalityTraits: []string{"curious"}}); err != nil {
		t.Fatalf("upsert traits: %v", err)
	}

	p, err := s.GetProfile("u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if len(p.Interests) != 2 || p.Interests[0] != "hiking" {
		t.Errorf("Interests = %v, want preserved after unrelated patch", p.Interests)
	}
	if len(p.PersonalityTraits) != 1 || p.PersonalityTraits[0] != "curious" {
		t.Errorf("PersonalityTraits = %v", p.PersonalityTraits)
	}
}

func TestInsertMemoriesAndListFilters(t *testing.T) {
	s := newTestStore(t)

	entries := []Entry{
		{UserID: "u1", MemoryType: TypePreference, Content: "likes dark roast coffee", Importance: 7},
		{UserID: "u1", MemoryType: TypeSkill, Content: "fluent in Rust", Importance: 4},
		{UserID: "u1", MemoryType: TypeGoal, Content: "ship side project", Importance: 9},
	}
	if err := s.InsertMemories("u1", entries); err != nil {
		t.Fatalf("InsertMemories: %v", err)
	}

	all, err := s.ListMemories("u1", ListFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].MemoryType != TypeGoal {
		t.Errorf("first entry = %s, want highest importance first", all[0].MemoryType)
	}

	important, err := s.ListMemories("u1", ListFilter{ActiveOnly: true, MinImportance: 7})
	if err != nil {
		t.Fatalf("ListMemories min importance: %v", err)
	}
	if len(important) != 2 {
		t.Errorf("min importance 7 returned %d entries, want 2", len(important))
	}

	skills, err := s.ListMemories("u1", ListFilter{ActiveOnly: true, Types: []string{TypeSkill}})
	if err != nil {
		t.Fatalf("ListMemories typed: %v", err)
	}
	if len(skills) != 1 || skills[0].Content != "fluent in Rust" {
		t.Errorf("typed filter = %v", skills)
	}

	limited, err := s.ListMemories("u1", ListFilter{ActiveOnly: true, Limit: 1})
	if err != nil {
		t.Fatalf("ListMemories limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d entries", len(limited))
	}
}

func TestInsertMemoriesDedupRefreshesInPlace(t *testing.T) {
	s := newTestStore(t)

	first := []Entry{{UserID: "u1", MemoryType: TypeHabit, Content: "runs every morning", Importance: 4}}
	if err := s.InsertMemories("u1", first); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	again := []Entry{{UserID: "u1", MemoryType: TypeHabit, Content: "runs every morning", Importance: 8, Context: "mentioned during planning"}}
	if err := s.InsertMemories("u1", again); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	got, err := s.ListMemories("u1", ListFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 after dedup", len(got))
	}
	if got[0].Importance != 8 {
		t.Errorf("Importance = %d, want refreshed to 8", got[0].Importance)
	}
	if got[0].Context != "mentioned during planning" {
		t.Errorf("Context = %q, want refreshed", got[0].Context)
	}
}

func TestDeactivateMemory(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertMemories("u1", []Entry{{UserID: "u1", MemoryType: TypeConcern, Content: "deadline stress", Importance: 6}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _ := s.ListMemories("u1", ListFilter{ActiveOnly: true})
	if len(got) != 1 {
		t.Fatalf("setup: %d entries", len(got))
	}

	if err := s.DeactivateMemory(got[0].ID); err != nil {
		t.Fatalf("DeactivateMemory: %v", err)
	}

	active, _ := s.ListMemories("u1", ListFilter{ActiveOnly: true})
	if len(active) != 0 {
		t.Errorf("active entries = %d after deactivate, want 0", len(active))
	}
	all, _ := s.ListMemories("u1", ListFilter{})
	if len(all) != 1 {
		t.Errorf("row removed instead of deactivated")
	}
}

func TestDeleteUserData(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProfile("u1", &ProfilePatch{Name: strPtr("Alice")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.InsertMemories("u1", []Entry{{UserID: "u1", MemoryType: TypeTool, Content: "uses neovim", Importance: 5}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertProfile("u2", &ProfilePatch{Name: strPtr("Bob")}); err != nil {
		t.Fatalf("upsert u2: %v", err)
	}

	if err := s.DeleteUserData("u1"); err != nil {
		t.Fatalf("DeleteUserData: %v", err)
	}

	if _, err := s.GetProfile("u1"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("u1 profile still present: %v", err)
	}
	got, _ := s.ListMemories("u1", ListFilter{})
	if len(got) != 0 {
		t.Errorf("u1 memories still present: %d", len(got))
	}
	if _, err := s.GetProfile("u2"); err != nil {
		t.Errorf("u2 profile lost: %v", err)
	}
}

func TestExpireMemories(t *testing.T) {
	s := newTestStore(t)

	entries := []Entry{
		{UserID: "u1", MemoryType: TypeExperience, Content: "old low-value note", Importance: 2},
		{UserID: "u1", MemoryType: TypeAchievement, Content: "old but important", Importance: 9},
	}
	if err := s.InsertMemories("u1", entries); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A cutoff in the future makes every row "stale".
	n, err := s.ExpireMemories(time.Now().Add(time.Hour), 3)
	if err != nil {
		t.Fatalf("ExpireMemories: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d entries, want 1", n)
	}

	active, _ := s.ListMemories("u1", ListFilter{ActiveOnly: true})
	if len(active) != 1 || active[0].Importance != 9 {
		t.Errorf("high-importance entry should survive expiry, got %v", active)
	}

	// Nothing is older than a cutoff in the past.
	n, err = s.ExpireMemories(time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ExpireMemories past cutoff: %v", err)
	}
	if n != 0 {
		t.Errorf("expired %d entries with past cutoff, want 0", n)
	}
}

func TestUserStats(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.UserStats("u1")
	if err != nil {
		t.Fatalf("UserStats empty: %v", err)
	}
	if stats.HasProfile || stats.TotalMemories != 0 {
		t.Errorf("empty stats = %+v", stats)
	}

	if err := s.UpsertProfile("u1", &ProfilePatch{Name: strPtr("Alice")}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.InsertMemories("u1", []Entry{
		{UserID: "u1", MemoryType: TypePreference, Content: "a", Importance: 5},
		{UserID: "u1", MemoryType: TypePreference, Content: "b", Importance: 5},
		{UserID: "u1", MemoryType: TypeProject, Content: "c", Importance: 5},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats, err = s.UserStats("u1")
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if !stats.HasProfile {
		t.Error("HasProfile = false")
	}
	if stats.TotalMemories != 3 {
		t.Errorf("TotalMemories = %d, want 3", stats.TotalMemories)
	}
	if stats.TypeCounts[TypePreference] != 2 || stats.TypeCounts[TypeProject] != 1 {
		t.Errorf("TypeCounts = %v", stats.TypeCounts)
	}
}
