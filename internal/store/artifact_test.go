package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArtifactRepository_CreateAndGet(t *testing.T) {
	repo := setupTestStore(t).Artifacts()

	a := &Artifact{
		Kind:       KindExport,
		Format:     "json",
		Path:       "/tmp/out/detections_20260304_050607.json",
		SourceKind: "video",
		Detections: 3,
		Classes:    map[string]int{"person": 2, "dog": 1},
	}
	if err := repo.Create(a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID == "" {
		t.Fatal("Create() should assign an ID")
	}
	if a.CreatedAt.IsZero() {
		t.Error("Create() should set CreatedAt")
	}

	got, err := repo.GetByID(a.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if diff := cmp.Diff(a, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("GetByID() mismatch (-want +got):\n%s", diff)
	}
}

func TestArtifactRepository_CreateRejectsUnknownKind(t *testing.T) {
	repo := setupTestStore(t).Artifacts()

	if err := repo.Create(&Artifact{Kind: "video", Path: "x"}); err == nil {
		t.Error("Create() with unknown kind should fail")
	}
}

func TestArtifactRepository_CreateKeepsGivenID(t *testing.T) {
	repo := setupTestStore(t).Artifacts()

	a := &Artifact{ID: "snap-1", Kind: KindSnapshot, Path: "/tmp/snapshot.jpg"}
	if err := repo.Create(a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID != "snap-1" {
		t.Errorf("ID = %q, want snap-1", a.ID)
	}

	if err := repo.Create(&Artifact{ID: "snap-1", Kind: KindSnapshot, Path: "/tmp/other.jpg"}); err == nil {
		t.Error("Create() with a duplicate ID should fail")
	}
}

func TestArtifactRepository_GetByIDNotFound(t *testing.T) {
	repo := setupTestStore(t).Artifacts()

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestArtifactRepository_List(t *testing.T) {
	repo := setupTestStore(t).Artifacts()

	for _, a := range []*Artifact{
		{ID: "a", Kind: KindExport, Format: "csv", Path: "/out/a.csv"},
		{ID: "b", Kind: KindSnapshot, Path: "/out/b.jpg"},
		{ID: "c", Kind: KindExport, Format: "txt", Path: "/out/c.txt", Classes: map[string]int{"car": 4}},
	} {
		if err := repo.Create(a); err != nil {
			t.Fatalf("Create(%s) error = %v", a.ID, err)
		}
	}

	tests := []struct {
		kind Kind
		want []string
	}{
		{"", []string{"c", "b", "a"}},
		{KindExport, []string{"c", "a"}},
		{KindSnapshot, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			list, err := repo.List(tt.kind)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var ids []string
			for _, a := range list {
				ids = append(ids, a.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("List(%q) ids mismatch (-want +got):\n%s", tt.kind, diff)
			}
		})
	}

	list, _ := repo.List(KindExport)
	if list[0].Classes["car"] != 4 {
		t.Errorf("List() classes = %v, want car=4", list[0].Classes)
	}
}

func TestArtifactRepository_ListEmpty(t *testing.T) {
	repo := setupTestStore(t).Artifacts()

	list, err := repo.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() = %d artifacts, want 0", len(list))
	}
}

func TestArtifactRepository_DeleteCascades(t *testing.T) {
	s := setupTestStore(t)
	repo := s.Artifacts()

	a := &Artifact{Kind: KindExport, Format: "json", Path: "/out/x.json", Classes: map[string]int{"person": 1}}
	if err := repo.Create(a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}

	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM artifact_classes WHERE artifact_id = ?`, a.ID).Scan(&n); err != nil {
		t.Fatalf("count classes: %v", err)
	}
	if n != 0 {
		t.Errorf("artifact_classes rows = %d after delete, want 0", n)
	}

	if err := repo.Delete(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
