package restaurants

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestLatestForCollectsImagesInRecencyOrder(t *testing.T) {
	db := newTestDB(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	first := seedRestaurant(t, db, "one", testCenter)
	second := seedRestaurant(t, db, "two", northOf(testCenter, 10))

	base := time.Unix(1700000000, 0)
	seedReview(t, db, first.ID, 4, "oldest", []string{"d"}, base)
	seedReview(t, db, first.ID, 4, "middle", []string{"c"}, base.Add(time.Minute))
	seedReview(t, db, first.ID, 4, "newest", []string{"a", "b"}, base.Add(2*time.Minute))

	previews, err := store.LatestFor(context.Background(), []uint{first.ID, second.ID}, FetchOptions{
		PerEntityLimit: 2,
		ImageCap:       2,
		Filter:         FilterWithImages,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(previews[first.ID].Images, ","); got != "a,b" {
		t.Fatalf("expected [a b] for the first restaurant, got %v", previews[first.ID].Images)
	}
	if previews[first.ID].PreviewText == nil || *previews[first.ID].PreviewText != "newest" {
		t.Fatalf("expected preview from the newest review, got %v", previews[first.ID].PreviewText)
	}
	entry, ok := previews[second.ID]
	if !ok {
		t.Fatalf("expected an entry for a restaurant without reviews")
	}
	if entry.Images == nil || len(entry.Images) != 0 || entry.PreviewText != nil {
		t.Fatalf("expected empty entry, got %+v", entry)
	}
}

func TestLatestForFillsImagesAcrossRetainedReviews(t *testing.T) {
	db := newTestDB(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	restaurant := seedRestaurant(t, db, "one", testCenter)

	base := time.Unix(1700000000, 0)
	seedReview(t, db, restaurant.ID, 4, "", []string{"outside-window"}, base)
	seedReview(t, db, restaurant.ID, 4, "", []string{"second"}, base.Add(time.Minute))
	seedReview(t, db, restaurant.ID, 4, "", []string{"first"}, base.Add(2*time.Minute))

	previews, err := store.LatestFor(context.Background(), []uint{restaurant.ID}, nearbyFetchOptions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(previews[restaurant.ID].Images, ","); got != "first,second" {
		t.Fatalf("unexpected images %v", previews[restaurant.ID].Images)
	}
}

func TestLatestForFiltersDifferByCallSite(t *testing.T) {
	db := newTestDB(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	restaurant := seedRestaurant(t, db, "one", testCenter)

	base := time.Unix(1700000000, 0)
	seedReview(t, db, restaurant.ID, 5, "with photo", []string{"photo.jpg"}, base)
	seedReview(t, db, restaurant.ID, 3, "words only", nil, base.Add(time.Minute))
	seedReview(t, db, restaurant.ID, 1, "", nil, base.Add(2*time.Minute))

	nearby, err := store.LatestFor(context.Background(), []uint{restaurant.ID}, nearbyFetchOptions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := nearby[restaurant.ID].PreviewText; text == nil || *text != "with photo" {
		t.Fatalf("images-only fetch must skip text-only reviews, got %v", text)
	}

	detail, err := store.LatestFor(context.Background(), []uint{restaurant.ID}, detailFetchOptions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := detail[restaurant.ID].PreviewText; text == nil || *text != "words only" {
		t.Fatalf("detail fetch must include text-only reviews, got %v", text)
	}
	if got := strings.Join(detail[restaurant.ID].Images, ","); got != "photo.jpg" {
		t.Fatalf("unexpected detail images %v", detail[restaurant.ID].Images)
	}
}

func TestLatestForTakesPreviewFromNewestRetainedReviewOnly(t *testing.T) {
	db := newTestDB(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	silent := seedRestaurant(t, db, "silent", testCenter)
	mixed := seedRestaurant(t, db, "mixed", northOf(testCenter, 10))

	base := time.Unix(1700000000, 0)
	seedReview(t, db, silent.ID, 5, "older words", []string{"old.jpg"}, base)
	seedReview(t, db, silent.ID, 4, "  ", []string{"new.jpg"}, base.Add(time.Minute))

	seedReview(t, db, mixed.ID, 5, "photo words", []string{"photo.jpg"}, base)
	seedReview(t, db, mixed.ID, 2, "", nil, base.Add(time.Minute))

	previews, err := store.LatestFor(context.Background(), []uint{silent.ID, mixed.ID}, nearbyFetchOptions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := previews[silent.ID].PreviewText; text != nil {
		t.Fatalf("expected no preview when the newest photo review is blank, got %q", *text)
	}
	if got := strings.Join(previews[silent.ID].Images, ","); got != "new.jpg,old.jpg" {
		t.Fatalf("unexpected images %v", previews[silent.ID].Images)
	}
	if text := previews[mixed.ID].PreviewText; text == nil || *text != "photo words" {
		t.Fatalf("expected the photo review to rank first once the text-only review is filtered, got %v", text)
	}
}

func TestLatestForIssuesExactlyOneQuery(t *testing.T) {
	for _, size := range []int{0, 1, 5, 1000} {
		t.Run(fmt.Sprintf("ids-%d", size), func(t *testing.T) {
			db := newTestDB(t)
			store, err := NewStore(db)
			if err != nil {
				t.Fatalf("failed to construct store: %v", err)
			}

			ids := make([]uint, 0, size)
			for index := 0; index < size; index++ {
				ids = append(ids, uint(index+1))
			}
			if size > 0 {
				restaurant := seedRestaurant(t, db, "seeded", testCenter)
				seedReview(t, db, restaurant.ID, 4, "only", []string{"x.jpg"}, time.Unix(1700000000, 0))
			}
			counter := countQueries(t, db)

			previews, err := store.LatestFor(context.Background(), ids, nearbyFetchOptions)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if counter.value() != 1 {
				t.Fatalf("expected exactly one query for %d ids, got %d", size, counter.value())
			}
			if len(previews) != size {
				t.Fatalf("expected %d entries, got %d", size, len(previews))
			}
			if size > 0 && len(previews[1].Images) != 1 {
				t.Fatalf("expected the seeded review image, got %+v", previews[1])
			}
		})
	}
}

func TestTruncatePreview(t *testing.T) {
	exact := strings.Repeat("a", 50)
	if got := truncatePreview(exact); got != exact {
		t.Fatalf("50 characters must be returned unmodified, got %q", got)
	}

	long := strings.Repeat("b", 51)
	got := truncatePreview(long)
	if got != strings.Repeat("b", 50)+"..." {
		t.Fatalf("unexpected truncation %q", got)
	}
	if utf8.RuneCountInString(got) != 53 {
		t.Fatalf("expected 53 characters, got %d", utf8.RuneCountInString(got))
	}

	korean := strings.Repeat("국밥이정말맛있어요", 7)
	truncated := truncatePreview(korean)
	if !utf8.ValidString(truncated) {
		t.Fatalf("truncation split a multibyte character")
	}
	if utf8.RuneCountInString(truncated) != 53 || !strings.HasSuffix(truncated, "...") {
		t.Fatalf("unexpected korean truncation %q", truncated)
	}

	if got := truncatePreview(""); got != "" {
		t.Fatalf("expected empty text to stay empty, got %q", got)
	}
}

func TestRoundOneDecimal(t *testing.T) {
	testCases := map[float64]float64{
		4.0:     4.0,
		4.25:    4.3,
		3.6666:  3.7,
		799.949: 799.9,
		0:       0,
	}
	for input, expected := range testCases {
		if got := roundOneDecimal(input); got != expected {
			t.Fatalf("roundOneDecimal(%v) = %v, want %v", input, got, expected)
		}
	}
}
