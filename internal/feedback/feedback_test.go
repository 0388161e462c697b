package feedback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/docsrag/docsrag/internal/log"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "feedback.db"), log.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "how to deploy?", "Use the pipeline.", RatingUp, "helpful"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, "what is X?", "I don't know based on the available documentation.", RatingDown, ""); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	// Newest first.
	if entries[0].Rating != RatingDown || entries[1].Rating != RatingUp {
		t.Errorf("order wrong: %+v", entries)
	}
	if entries[1].Comment != "helpful" {
		t.Errorf("Comment = %q, want helpful", entries[1].Comment)
	}
	if entries[0].Comment != "" {
		t.Errorf("empty comment round-trip = %q", entries[0].Comment)
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}
}

func TestRecord_InvalidRating(t *testing.T) {
	s := openTestStore(t)

	for _, rating := range []string{"", "sideways", "UP"} {
		err := s.Record(context.Background(), "q", "a", rating, "")
		if !errors.Is(err, ErrInvalidRating) {
			t.Errorf("Record(rating=%q) = %v, want ErrInvalidRating", rating, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.db")

	s1, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	if err := s1.Record(context.Background(), "q", "a", RatingUp, ""); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Migrations must be idempotent across restarts, data must survive.
	s2, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer s2.Close() //nolint:errcheck

	entries, err := s2.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries after reopen, want 1", len(entries))
	}
}

func TestRecent_InvalidLimit(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Recent(context.Background(), 0); err == nil {
		t.Fatal("expected error for limit 0")
	}
}

func TestPreviewRuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{"short string unchanged", "how do I install?", 120, "how do I install?"},
		{"ascii cut", "abcdef", 3, "abc"},
		{"cut inside multibyte rune backs off", "abécd", 3, "ab"},
		{"cut at rune boundary kept", "abécd", 4, "abé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preview(tt.s, tt.n); got != tt.want {
				t.Errorf("preview(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
			}
		})
	}
}
