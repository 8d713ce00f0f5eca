package ids

import (
	"context"
	"errors"
	"testing"
)

type fakeStore map[string]bool

func (f fakeStore) Exists(_ context.Context, id string) (bool, error) { return f[id], nil }

type failingStore struct{}

func (failingStore) Exists(context.Context, string) (bool, error) { return false, errors.New("disk gone") }

func TestSlug(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Remind me to water plants", "remind_me_to_water_p"},
		{"Send AI news every morning at 8", "send_ai_news_every_m"},
		{"  hello!!!  world  ", "_hello_world_"},
		{"???", "_"},
		{"", "task"},
		{"Новости Go", "новости_go"},
		{"snake_case_stays", "snake_case_stays"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := Slug(tt.in); got != tt.want {
				t.Fatalf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOwner(t *testing.T) {
	t.Parallel()

	names := map[int64]string{1: "Lena", 2: "Andy Smith", 3: "  "}
	if got := Owner(1, names); got != "lena" {
		t.Fatalf("Owner(1) = %q", got)
	}
	if got := Owner(2, names); got != "andy_smith" {
		t.Fatalf("Owner(2) = %q", got)
	}
	if got := Owner(3, names); got != "user_3" {
		t.Fatalf("Owner(3) = %q", got)
	}
	if got := Owner(99, nil); got != "user_99" {
		t.Fatalf("Owner(99) = %q", got)
	}
}

func TestAllocateProbesSuffixes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := fakeStore{}
	text := "Daily digest of Go news"

	want := []string{"lena_daily_digest_of_go_n", "lena_daily_digest_of_go_n_1", "lena_daily_digest_of_go_n_2"}
	for i, w := range want {
		id, err := Allocate(ctx, store, "lena", text)
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		if id != w {
			t.Fatalf("Allocate #%d = %q, want %q", i, id, w)
		}
		store[id] = true
	}
}

func TestAllocateFillsGaps(t *testing.T) {
	t.Parallel()

	store := fakeStore{"lena_x": true, "lena_x_2": true}
	id, err := Allocate(context.Background(), store, "lena", "x")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != "lena_x_1" {
		t.Fatalf("Allocate = %q, want lena_x_1", id)
	}
}

func TestAllocateStoreError(t *testing.T) {
	t.Parallel()

	if _, err := Allocate(context.Background(), failingStore{}, "lena", "x"); err == nil {
		t.Fatalf("expected error")
	}
}
