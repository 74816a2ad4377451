package storage

import (
	"context"
	"testing"
	"time"

	"HireScout/internal/domain"
)

func TestPostsFirstWriterWins(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	first, err := store.Posts.Create(ctx, domain.GlobalPost{URL: "https://a.example/p/1", Text: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.Posts.Create(ctx, domain.GlobalPost{URL: "https://a.example/p/1", Text: "second"})
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("duplicate url produced a second post: %s vs %s", second.ID, first.ID)
	}
	if second.Text != "first" {
		t.Fatalf("duplicate overwrote content: %q", second.Text)
	}
}

func TestPostsFindByEitherKey(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	created, err := store.Posts.Create(ctx, domain.GlobalPost{URL: "https://a.example/p/2", ExternalID: "urn:activity:2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byURL, err := store.Posts.FindByURLOrExternalID(ctx, "https://a.example/p/2", "")
	if err != nil || byURL == nil || byURL.ID != created.ID {
		t.Fatalf("lookup by url = %v, %v", byURL, err)
	}
	byExt, err := store.Posts.FindByURLOrExternalID(ctx, "", "urn:activity:2")
	if err != nil || byExt == nil || byExt.ID != created.ID {
		t.Fatalf("lookup by external id = %v, %v", byExt, err)
	}
	missing, err := store.Posts.FindByURLOrExternalID(ctx, "https://a.example/other", "urn:other")
	if err != nil || missing != nil {
		t.Fatalf("lookup of unknown keys = %v, %v", missing, err)
	}
}

func TestMatchesUniquePerRecipientAndPost(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	first, created, err := store.Matches.Create(ctx, domain.Match{RecipientID: "rec-1", PostID: "post-1"})
	if err != nil || !created {
		t.Fatalf("first create = %v, created %v", err, created)
	}
	second, created, err := store.Matches.Create(ctx, domain.Match{RecipientID: "rec-1", PostID: "post-1"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("pair was not unique: created=%v id=%s", created, second.ID)
	}

	// A different recipient against the same post is a distinct match.
	_, created, err = store.Matches.Create(ctx, domain.Match{RecipientID: "rec-2", PostID: "post-1"})
	if err != nil || !created {
		t.Fatalf("other recipient create = %v, created %v", err, created)
	}
}

func TestVisibleContactableOrderedByShownAt(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	show := func(postID string, offset time.Duration, contactable bool) {
		match, _, err := store.Matches.Create(ctx, domain.Match{RecipientID: "rec-1", PostID: postID})
		if err != nil {
			t.Fatalf("create %s: %v", postID, err)
		}
		if err := store.Matches.UpdateScore(ctx, match.ID, 50, domain.TierGood, contactable); err != nil {
			t.Fatalf("score %s: %v", postID, err)
		}
		shownAt := base.Add(offset)
		if err := store.Matches.SetVisibility(ctx, match.ID, true, &shownAt); err != nil {
			t.Fatalf("show %s: %v", postID, err)
		}
	}

	show("post-b", 2*time.Minute, true)
	show("post-a", 1*time.Minute, true)
	show("post-c", 3*time.Minute, false) // not contactable, never counted
	show("post-d", -2*time.Hour, true)   // before the window

	list, err := store.Matches.VisibleContactable(ctx, "rec-1", base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d matches, want 2", len(list))
	}
	if list[0].PostID != "post-a" || list[1].PostID != "post-b" {
		t.Fatalf("order = %s, %s", list[0].PostID, list[1].PostID)
	}

	count, err := store.Matches.CountVisibleContactable(ctx, "rec-1", base)
	if err != nil || count != 2 {
		t.Fatalf("count = %d, %v", count, err)
	}
}

func TestQuotaWindowRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	missing, err := store.Quota.Window(ctx, "rec-1")
	if err != nil || missing != nil {
		t.Fatalf("window before save = %v, %v", missing, err)
	}

	resetAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if err := store.Quota.SaveWindow(ctx, domain.QuotaWindow{RecipientID: "rec-1", Count: 4, Limit: 5, ResetAt: resetAt}); err != nil {
		t.Fatalf("save: %v", err)
	}

	window, err := store.Quota.Window(ctx, "rec-1")
	if err != nil || window == nil {
		t.Fatalf("window after save = %v, %v", window, err)
	}
	if window.Count != 4 || window.Limit != 5 || !window.ResetAt.Equal(resetAt) {
		t.Fatalf("window = %+v", window)
	}
}
