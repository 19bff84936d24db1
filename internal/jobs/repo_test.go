package jobs

import (
	"context"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

var jobSeq int

func newJobID(t *testing.T) string {
	t.Helper()
	jobSeq++
	id := fmt.Sprintf("01HJOB%020d", jobSeq)
	if len(id) != 26 {
		t.Fatalf("bad test id %q", id)
	}
	return id
}

func TestCreateOrGetExisting_NoKeyAlwaysCreates(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	j1 := &Job{ID: newJobID(t), ConversationID: "c1", Query: "q", Status: StatusQueued}
	got, created, err := repo.CreateOrGetExisting(ctx, j1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || got.ID != j1.ID {
		t.Fatalf("expected a fresh job, created=%v id=%s", created, got.ID)
	}

	j2 := &Job{ID: newJobID(t), ConversationID: "c1", Query: "q", Status: StatusQueued}
	_, created, err = repo.CreateOrGetExisting(ctx, j2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("keyless jobs never deduplicate")
	}
}

func TestCreateOrGetExisting_SameKeyReturnsOriginal(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	key := "idempo-" + newJobID(t)
	first := &Job{ID: newJobID(t), ConversationID: "c1", Query: "q", IdempotencyKey: &key, Status: StatusQueued}
	got, created, err := repo.CreateOrGetExisting(ctx, first)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	firstID := got.ID

	retry := &Job{ID: newJobID(t), ConversationID: "c1", Query: "q", IdempotencyKey: &key, Status: StatusQueued}
	got, created, err = repo.CreateOrGetExisting(ctx, retry)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if created {
		t.Fatalf("retry with the same key must not create")
	}
	if got.ID != firstID {
		t.Fatalf("retry must return the original job, got %s want %s", got.ID, firstID)
	}
}

func TestMarkRunning_OnlyFromQueued(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	id := newJobID(t)
	if err := repo.Create(ctx, &Job{ID: id, ConversationID: "c1", Query: "q", Status: StatusQueued}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.MarkRunning(ctx, id); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	j, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusRunning {
		t.Fatalf("status %s", j.Status)
	}

	if err := repo.MarkSucceeded(ctx, id, "done", nil); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	// a late MarkRunning must not demote a finished job
	if err := repo.MarkRunning(ctx, id); err != nil {
		t.Fatalf("late mark running: %v", err)
	}
	j, _ = repo.GetByID(ctx, id)
	if j.Status != StatusSucceeded {
		t.Fatalf("finished job demoted to %s", j.Status)
	}
}

func TestMarkSucceeded_StoresAnswerAndSources(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	id := newJobID(t)
	if err := repo.Create(ctx, &Job{ID: id, ConversationID: "c1", Query: "q", Status: StatusQueued}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkSucceeded(ctx, id, "the answer", []string{"doc-1", "doc-2"}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	j, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusSucceeded || j.Answer != "the answer" {
		t.Fatalf("unexpected job: %+v", j)
	}
	srcs := j.SourceList()
	if len(srcs) != 2 || srcs[0] != "doc-1" {
		t.Fatalf("unexpected sources: %v", srcs)
	}
	if j.Error != nil {
		t.Fatalf("succeeded job must clear the error, got %v", *j.Error)
	}
}

func TestMarkFailed_StoresError(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	id := newJobID(t)
	if err := repo.Create(ctx, &Job{ID: id, ConversationID: "c1", Query: "q", Status: StatusQueued}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkFailed(ctx, id, "pipeline exploded"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	j, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != StatusFailed {
		t.Fatalf("status %s", j.Status)
	}
	if j.Error == nil || *j.Error != "pipeline exploded" {
		t.Fatalf("unexpected error column: %v", j.Error)
	}
	if j.SourceList() != nil {
		t.Fatalf("failed job has no sources")
	}
}

func TestGetByID_Unknown(t *testing.T) {
	repo := NewRepo(openTestDB(t))

	_, err := repo.GetByID(context.Background(), newJobID(t))
	if err != gorm.ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
