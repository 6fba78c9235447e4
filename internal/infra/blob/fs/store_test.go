package fs

import (
	"context"
	"io"
	"strings"
	"testing"

	"groupcore/internal/blob/core"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutGetHeadDeleteRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	info, err := store.Put(ctx, "archives/a.json", strings.NewReader(`{"a":1}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"entities": "3"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ContentType != "application/json" || info.ETag == "" {
		t.Fatalf("unexpected info: %+v", info)
	}

	got, rc, err := store.Get(ctx, "archives/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != `{"a":1}` {
		t.Fatalf("unexpected body %q", body)
	}
	if got.Metadata["entities"] != "3" {
		t.Fatalf("metadata must round trip, got %+v", got.Metadata)
	}

	head, err := store.Head(ctx, "archives/a.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ETag != info.ETag {
		t.Fatalf("head etag %q != put etag %q", head.ETag, info.ETag)
	}

	deleted, err := store.Delete(ctx, "archives/a.json")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.Delete(ctx, "archives/a.json")
	if err != nil || deleted {
		t.Fatalf("second delete must report false, got deleted=%v err=%v", deleted, err)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{}); err == nil {
		t.Fatalf("overwriting an existing key must fail")
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"archives/b.json", "archives/a.json", "other/c.json"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "archives/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "archives/a.json" || infos[1].Key != "archives/b.json" {
		t.Fatalf("expected sorted archive keys, got %+v", infos)
	}
}

func TestKeySanitization(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
}

func TestPresignURL(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := store.PresignURL(ctx, "k", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "/k") {
		t.Fatalf("unexpected url %q", url)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported for PUT, got %v", err)
	}
}
