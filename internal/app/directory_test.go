package app

import (
	"context"
	"errors"
	"testing"

	"github.com/cloakshare/relay/internal/domain"
	"github.com/cloakshare/relay/internal/store"
)

func TestDirectoryCreate(t *testing.T) {
	d := NewDirectory(DirectoryConfig{}, store.NewMemoryStore())

	t.Run("pair codes are 4 digits", func(t *testing.T) {
		s, err := d.Create(domain.KindPair)
		if err != nil {
			t.Fatal(err)
		}
		id := string(s.ID())
		if len(id) != 4 || id[0] == '0' {
			t.Fatalf("code %q", id)
		}
	})

	t.Run("mesh codes are 6 digits", func(t *testing.T) {
		s, err := d.Create(domain.KindMesh)
		if err != nil {
			t.Fatal(err)
		}
		if len(s.ID()) != 6 {
			t.Fatalf("code %q", s.ID())
		}
	})

	t.Run("codes are unique among active sessions", func(t *testing.T) {
		seen := make(map[domain.SessionID]bool)
		for i := 0; i < 50; i++ {
			s, err := d.Create(domain.KindPair)
			if err != nil {
				t.Fatal(err)
			}
			if seen[s.ID()] {
				t.Fatalf("duplicate code %s", s.ID())
			}
			seen[s.ID()] = true
		}
	})
}

func TestDirectoryLookup(t *testing.T) {
	d := NewDirectory(DirectoryConfig{}, store.NewMemoryStore())
	s, err := d.Create(domain.KindPair)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Lookup(s.ID()); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := d.Lookup("0000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown err = %v, want ErrNotFound", err)
	}

	s.End()
	if _, err := d.Lookup(s.ID()); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("ended err = %v, want ErrSessionEnded", err)
	}
	// Get still resolves ended sessions, for the reaper
	if _, ok := d.Get(s.ID()); !ok {
		t.Fatal("Get lost the ended session")
	}
}

func TestDirectoryRemove(t *testing.T) {
	st := store.NewMemoryStore()
	d := NewDirectory(DirectoryConfig{}, st)
	s, err := d.Create(domain.KindPair)
	if err != nil {
		t.Fatal(err)
	}
	d.Save(s, nil)

	d.Remove(s.ID())
	if _, ok := d.Get(s.ID()); ok {
		t.Fatal("session survived removal")
	}
	if _, ok, _ := st.Get(context.Background(), s.ID()); ok {
		t.Fatal("persisted record survived removal")
	}
}

func TestDirectoryMeshCapClamp(t *testing.T) {
	if got := memberCap(domain.KindPair, 8); got != 2 {
		t.Fatalf("pair cap = %d", got)
	}
	d := NewDirectory(DirectoryConfig{MeshMemberCap: 50}, nil)
	if d.cfg.MeshMemberCap != 12 {
		t.Fatalf("mesh cap = %d, want clamp to 12", d.cfg.MeshMemberCap)
	}
}
