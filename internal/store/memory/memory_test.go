package memory

import (
	"context"
	"fmt"
	"testing"

	"esimflow/internal/domain/notification"
)

func TestNotificationListPagination(t *testing.T) {
	store := NewNotificationStore()
	for i := 0; i < 5; i++ {
		rec := &notification.Record{
			Type:      notification.TypeOrderStatus,
			RequestID: fmt.Sprintf("req-%d", i+1),
		}
		if err := store.Create(context.Background(), rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, err := store.List(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("first page = %d rows, want 2", len(page))
	}
	if page[0].RequestID != "req-1" || page[1].RequestID != "req-2" {
		t.Errorf("first page = (%s,%s), want (req-1,req-2)", page[0].RequestID, page[1].RequestID)
	}

	page, err = store.List(context.Background(), 2, 4)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 1 || page[0].RequestID != "req-5" {
		t.Fatalf("tail page = %d rows, want the single req-5 row", len(page))
	}

	page, err = store.List(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 0 {
		t.Errorf("past-the-end page = %d rows, want 0", len(page))
	}
}
