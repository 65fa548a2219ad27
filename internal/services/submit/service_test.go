package submit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shiftbot/internal/storage"
	"shiftbot/internal/timewindow"
	"shiftbot/pkg/logx"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "requests.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, timewindow.NewResolver(time.UTC), logx.Nop()), st
}

func TestSubmitPersistsRequest(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	rec, err := svc.Submit(ctx, Submission{
		Kind:      "training",
		ChannelID: "1001",
		OwnerID:   "42",
		Content:   "[Training]: drill",
		Date:      "2025-09-05",
		Start:     "14:00",
		End:       "15:00",
		Timezone:  "UTC",
	}, now)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.ID <= 0 {
		t.Fatalf("receipt id = %d", rec.ID)
	}
	wantStart := time.Date(2025, 9, 5, 14, 0, 0, 0, time.UTC)
	if !rec.StartAt.Equal(wantStart) {
		t.Fatalf("StartAt = %v, want %v", rec.StartAt, wantStart)
	}
	if got := rec.EndAt.Sub(rec.StartAt); got != time.Hour {
		t.Fatalf("window length = %v, want 1h", got)
	}

	due, err := st.DueToPost(ctx, rec.StartAt, time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 1 || due[0].ID != rec.ID {
		t.Fatalf("persisted row not found: %+v", due)
	}
	if due[0].OwnerID != "42" || due[0].Kind != "training" {
		t.Fatalf("row fields lost: %+v", due[0])
	}
}

func TestSubmitRejectionPersistsNothing(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	_, err := svc.Submit(ctx, Submission{
		Kind:      "training",
		ChannelID: "1001",
		OwnerID:   "42",
		Content:   "[Training]: drill",
		Date:      "2025-09-05",
		Start:     "15:00",
		End:       "14:00",
		Timezone:  "UTC",
	}, now)
	var rej *timewindow.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want *timewindow.Rejection", err)
	}
	if rej.Reason != timewindow.ReasonEndBeforeOrEqualStart {
		t.Fatalf("Reason = %s", rej.Reason)
	}

	exp, err := st.DueToRetract(ctx, now.Add(365*24*time.Hour))
	if err != nil {
		t.Fatalf("DueToRetract: %v", err)
	}
	if len(exp) != 0 {
		t.Fatalf("rejected submission was persisted: %+v", exp)
	}
}

func TestSubmitRequiredFields(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	base := Submission{
		Kind:      "training",
		ChannelID: "1001",
		OwnerID:   "42",
		Content:   "[Training]: drill",
		Date:      "2025-09-05",
		Start:     "14:00",
		End:       "15:00",
		Timezone:  "UTC",
	}

	noChannel := base
	noChannel.ChannelID = "  "
	if _, err := svc.Submit(ctx, noChannel, now); err == nil {
		t.Fatal("expected error for empty channel id")
	}

	noContent := base
	noContent.Content = ""
	if _, err := svc.Submit(ctx, noContent, now); err == nil {
		t.Fatal("expected error for empty content")
	}
}
