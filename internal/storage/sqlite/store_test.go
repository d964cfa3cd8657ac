package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/analysis/emotion"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/session"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "kiosk.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := first.CreateUser(context.Background(), user.User{Name: "noha", Role: user.Kid}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	users, err := second.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected data to survive reopening, got %+v", users)
	}
}

func TestSeedKnownUsers(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	added, err := store.SeedKnownUsers(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 users, added %d", added)
	}
	if added, err := store.SeedKnownUsers(ctx); err != nil || added != 0 {
		t.Fatalf("second seed must be a no-op, added=%d err=%v", added, err)
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	want := []user.User{
		{ID: 1, Name: "noha", Role: user.Kid, DeviceAddress: "CC:6B:1E:80:F5:85", ReferenceImagePath: "./known-faces/noha/noha.jpg"},
		{ID: 2, Name: "youssef", Role: user.Kid, DeviceAddress: "94:5C:9A:97:15:10", ReferenceImagePath: "./known-faces/youssef/youssef.jpg"},
		{ID: 3, Name: "seif", Role: user.Teacher, DeviceAddress: "24:5E:48:D6:C5:C6", ReferenceImagePath: "./known-faces/seif/seif.jpg"},
	}
	if len(users) != len(want) {
		t.Fatalf("expected %d users, got %+v", len(want), users)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("user %d: got %+v, want %+v", i, users[i], want[i])
		}
	}
}

func TestCreateUserDefaultsAndValidation(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{Name: " "}); err == nil {
		t.Fatal("expected missing name error")
	}
	id, err := store.CreateUser(ctx, user.User{Name: "mariam", DeviceAddress: " 11:22:33:44:55:66 "})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	users, _ := store.ListUsers(ctx)
	if len(users) != 1 || users[0].ID != id || users[0].Role != user.Kid || users[0].DeviceAddress != "11:22:33:44:55:66" {
		t.Fatalf("unexpected stored user: %+v", users)
	}
}

func TestSummariesJoinInInsertionOrder(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.SeedKnownUsers(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, s := range []session.Summary{
		{UserID: 2, DominantEmotion: emotion.Sad},
		{UserID: 1, DominantEmotion: emotion.Happy},
		{UserID: 2, DominantEmotion: emotion.Angry},
	} {
		if err := store.SaveSummary(ctx, s); err != nil {
			t.Fatalf("save summary: %v", err)
		}
	}

	rows, err := store.ListSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(rows) != 3 || rows[0].Username != "youssef" || rows[1].Username != "noha" || rows[2].DominantEmotion != "angry" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	r, err := store.TeacherReport(ctx)
	if err != nil {
		t.Fatalf("teacher report: %v", err)
	}
	if got := r.Usernames(); len(got) != 2 || got[0] != "youssef" || got[1] != "noha" {
		t.Fatalf("unexpected report order: %v", got)
	}
	if v, _ := r.Get("youssef"); v != "angry" {
		t.Fatalf("latest summary must win, got %q", v)
	}
}

func TestSaveSummaryUnknownUser(t *testing.T) {
	store := openTempStore(t)
	err := store.SaveSummary(context.Background(), session.Summary{UserID: 99, DominantEmotion: emotion.Happy})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	if got := extractUpMigration(content); got != "\nCREATE TABLE a (id INTEGER);\n" {
		t.Fatalf("unexpected up section: %q", got)
	}
	if got := extractUpMigration("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("content without markers must pass through, got %q", got)
	}
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.ListUsers(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
