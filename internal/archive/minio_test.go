package archive

import (
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 8, 12, 15, 4, 5, 0, time.UTC)
	key := objectKey("mtg_1", "Q3-Board-Meeting.pdf", at)
	if key != "meetings/mtg_1/20260812T150405Z-Q3-Board-Meeting.pdf" {
		t.Errorf("objectKey = %q", key)
	}
	if !strings.HasPrefix(key, "meetings/mtg_1/") {
		t.Errorf("key not scoped to meeting: %q", key)
	}
}
