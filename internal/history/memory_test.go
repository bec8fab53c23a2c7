package history

import (
	"context"
	"testing"

	"github.com/speedwagon-io/vmc/internal/model"
)

func snapshot(id string) *model.Snapshot {
	return &model.Snapshot{ID: id}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	s := NewMemoryStore(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.Add(snapshot(id))
	}

	all := s.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(all))
	}
	for i, want := range []string{"c", "d", "e"} {
		if all[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, all[i].ID, want)
		}
	}
}

func TestMemoryStoreGetRecent(t *testing.T) {
	s := NewMemoryStore(10)
	for _, id := range []string{"a", "b", "c"} {
		s.Add(snapshot(id))
	}

	tests := []struct {
		count int
		want  []string
	}{
		{2, []string{"b", "c"}},
		{0, []string{"a", "b", "c"}},
		{-1, []string{"a", "b", "c"}},
		{50, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		got := s.GetRecent(tt.count)
		if len(got) != len(tt.want) {
			t.Fatalf("count %d: got %d snapshots", tt.count, len(got))
		}
		for i := range tt.want {
			if got[i].ID != tt.want[i] {
				t.Fatalf("count %d position %d: got %s, want %s", tt.count, i, got[i].ID, tt.want[i])
			}
		}
	}
}

func TestMemoryStoreLatest(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	if latest, _ := s.Latest(ctx); latest != nil {
		t.Fatalf("expected nil on empty store, got %+v", latest)
	}

	if err := s.Consume(ctx, snapshot("x")); err != nil {
		t.Fatalf("consume: %v", err)
	}
	latest, err := s.Latest(ctx)
	if err != nil || latest == nil || latest.ID != "x" {
		t.Fatalf("unexpected latest: %+v (%v)", latest, err)
	}
}
