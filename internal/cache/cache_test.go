package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"testing/synctest"
	"time"

	"tunesync/internal/errs"
)

func TestStore_SetGet(t *testing.T) {
	s := New[string](time.Hour, 100, "")

	s.Set("k1", "v1")

	got, ok := s.Get("k1")
	if !ok {
		t.Fatal("expected hit for k1")
	}
	if got != "v1" {
		t.Errorf("Get(k1) = %q, want v1", got)
	}

	if _, ok := s.Get("absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestStore_GetExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := New[string](time.Minute, 100, "")
		s.Set("k1", "v1")

		time.Sleep(time.Minute + time.Second)

		if _, ok := s.Get("k1"); ok {
			t.Error("expected miss after TTL elapsed")
		}
		if s.Len() != 0 {
			t.Errorf("Len() = %d, want 0 after lazy expiry", s.Len())
		}
	})
}

func TestStore_SetTTL_OverridesDefault(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := New[string](time.Minute, 100, "")
		s.SetTTL("long", "v", time.Hour)

		time.Sleep(30 * time.Minute)

		if _, ok := s.Get("long"); !ok {
			t.Error("entry with explicit TTL should outlive the default")
		}
	})
}

func TestStore_Invalidate(t *testing.T) {
	s := New[int](time.Hour, 100, "")
	s.Set("k", 1)

	if !s.Invalidate("k") {
		t.Error("Invalidate(k) = false, want true for present key")
	}
	if s.Invalidate("k") {
		t.Error("Invalidate(k) = true, want false for absent key")
	}
	if _, ok := s.Get("k"); ok {
		t.Error("key should be gone after invalidation")
	}
}

func TestStore_InvalidateAll(t *testing.T) {
	s := New[int](time.Hour, 100, "")
	s.Set("a", 1)
	s.Set("b", 2)

	s.InvalidateAll()

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after InvalidateAll", s.Len())
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := New[string](time.Hour, 100, "")
		s.SetTTL("short1", "v", time.Minute)
		s.SetTTL("short2", "v", 2*time.Minute)
		s.SetTTL("long", "v", time.Hour)

		time.Sleep(5 * time.Minute)

		if removed := s.CleanupExpired(); removed != 2 {
			t.Errorf("CleanupExpired() = %d, want 2", removed)
		}
		if _, ok := s.Get("long"); !ok {
			t.Error("live entry should survive cleanup")
		}
	})
}

func TestStore_EnforceSizeLimits(t *testing.T) {
	s := New[int](time.Hour, 3, "")

	// Entries closest to expiry go first.
	s.SetTTL("a", 1, 1*time.Hour)
	s.SetTTL("b", 2, 2*time.Hour)
	s.SetTTL("c", 3, 3*time.Hour)
	s.SetTTL("d", 4, 4*time.Hour)
	s.SetTTL("e", 5, 5*time.Hour)

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want cap 3", s.Len())
	}
	for _, key := range []string{"a", "b"} {
		if _, ok := s.Get(key); ok {
			t.Errorf("oldest-expiry key %q should have been dropped", key)
		}
	}
	for _, key := range []string{"c", "d", "e"} {
		if _, ok := s.Get(key); !ok {
			t.Errorf("key %q should have survived the cap", key)
		}
	}
}

func TestStore_BackgroundCleanup(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := New[string](time.Minute, 100, "")
		s.StartCleanup(5 * time.Minute)
		defer s.Stop()

		s.Set("k", "v")
		time.Sleep(6 * time.Minute)

		if s.Len() != 0 {
			t.Errorf("Len() = %d, want 0 after janitor pass", s.Len())
		}
	})
}

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	s := New[string](time.Hour, 100, path)
	s.Set("k1", "v1")
	s.Set("k2", "v2")
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	restored := New[string](time.Hour, 100, path)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if restored.Len() != 2 {
		t.Errorf("Len() = %d, want 2 after load", restored.Len())
	}
	if got, _ := restored.Get("k1"); got != "v1" {
		t.Errorf("Get(k1) = %q, want v1", got)
	}
}

func TestStore_LoadDropsExpiredOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	stored := map[string]Entry[string]{
		"dead": {Value: "x", ExpiresAt: time.Now().Add(-time.Hour)},
		"live": {Value: "y", ExpiresAt: time.Now().Add(time.Hour)},
	}
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := New[string](time.Hour, 100, path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := s.Get("dead"); ok {
		t.Error("expired-on-disk entry should not be restored")
	}
	if _, ok := s.Get("live"); !ok {
		t.Error("live entry should be restored")
	}
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := New[string](time.Hour, 100, filepath.Join(t.TempDir(), "absent.json"))
	if err := s.Load(); err != nil {
		t.Errorf("Load() on missing file = %v, want clean start", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("not json{"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New[string](time.Hour, 100, path)
	err := s.Load()
	if err == nil {
		t.Fatal("Load() expected error for corrupt file")
	}
	if !errs.IsCacheCorruption(err) {
		t.Errorf("error = %v, want CacheCorruptionError", err)
	}
}

func TestStore_MemoryOnly(t *testing.T) {
	s := New[string](time.Hour, 100, "")
	s.Set("k", "v")
	if err := s.Save(); err != nil {
		t.Errorf("Save() without path = %v, want nil", err)
	}
	if err := s.Load(); err != nil {
		t.Errorf("Load() without path = %v, want nil", err)
	}
}
