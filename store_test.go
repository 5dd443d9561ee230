package pairchat

import (
	"testing"
	"time"
)

func storeMsg(id string, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: "a_b",
		SenderID:       "a",
		Text:           "msg " + id,
		CreatedAt:      At(at),
	}
}

func TestMessageStoreReplaceAll(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	store := NewMessageStore()

	snapshot := []Message{
		storeMsg("m3", base.Add(3*time.Minute)),
		storeMsg("m1", base.Add(1*time.Minute)),
		storeMsg("m2", base.Add(2*time.Minute)),
	}

	t.Run("is idempotent", func(t *testing.T) {
		store.ReplaceAll(snapshot)
		store.ReplaceAll(snapshot)
		if store.Len() != 3 {
			t.Fatalf("expected 3 messages, got %d", store.Len())
		}
	})

	t.Run("sorts ascending by createdAt", func(t *testing.T) {
		sorted := store.Sorted()
		want := []string{"m1", "m2", "m3"}
		for i, id := range want {
			if sorted[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, sorted[i].ID)
			}
		}
	})

	t.Run("does not alias the caller's slice", func(t *testing.T) {
		snapshot[0].Text = "mutated"
		if m, _ := store.Get("m3"); m.Text == "mutated" {
			t.Error("store aliases the snapshot slice")
		}
	})
}

func TestMessageStoreSortStability(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	store := NewMessageStore()

	// Identical timestamps keep insertion order.
	store.Insert(storeMsg("first", base))
	store.Insert(storeMsg("second", base))
	store.Insert(storeMsg("third", base))

	sorted := store.Sorted()
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, sorted[i].ID)
		}
	}
}

func TestMessageStorePatch(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	store := NewMessageStore()
	store.Insert(storeMsg("m1", base))

	t.Run("merges set fields", func(t *testing.T) {
		text := "rewritten"
		edited := true
		editedAt := At(base.Add(time.Hour))
		if !store.Patch("m1", MessagePatch{Text: &text, Edited: &edited, EditedAt: &editedAt}) {
			t.Fatal("patch reported no update")
		}
		m, _ := store.Get("m1")
		if m.Text != "rewritten" || !m.Edited {
			t.Errorf("patch not applied: %+v", m)
		}
		if !m.EditedAt.After(m.CreatedAt) {
			t.Error("editedAt should be after createdAt")
		}
	})

	t.Run("absent id is a no-op", func(t *testing.T) {
		text := "ghost"
		if store.Patch("missing", MessagePatch{Text: &text}) {
			t.Error("patch of a missing id reported an update")
		}
		if store.Len() != 1 {
			t.Errorf("store should be unchanged, len=%d", store.Len())
		}
	})
}

func TestMessageStoreRemove(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	store := NewMessageStore()
	store.Insert(storeMsg("m1", base))
	store.Insert(storeMsg("m2", base.Add(time.Minute)))

	if !store.Remove("m1") {
		t.Fatal("remove reported no deletion")
	}
	if store.Remove("m1") {
		t.Error("double remove should be a no-op")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 message, got %d", store.Len())
	}

	newest, ok := store.Newest()
	if !ok || newest.ID != "m2" {
		t.Errorf("expected newest m2, got %+v ok=%v", newest, ok)
	}

	store.Remove("m2")
	if _, ok := store.Newest(); ok {
		t.Error("empty store should report no newest message")
	}
}
