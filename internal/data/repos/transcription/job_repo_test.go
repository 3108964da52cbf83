package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-transcribe/internal/data/repos/testutil"
	domain "github.com/yungbote/neurobridge-transcribe/internal/domain/transcription"
	"github.com/yungbote/neurobridge-transcribe/internal/platform/dbctx"
)

func TestJobRepoCreateAndGet(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := testutil.NewJob("gcp_speech", "gs://b/a.flac", "gs://b/b.flac")
	job.OwnerContext = "user-1"
	if err := repo.Create(dbc, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ExternalJobID != job.ExternalJobID || got.Status != domain.StatusPending {
		t.Fatalf("GetByID: want ext=%s status=PENDING got ext=%s status=%s", job.ExternalJobID, got.ExternalJobID, got.Status)
	}
	if len(got.Inputs) != 2 || got.Inputs[1] != "gs://b/b.flac" {
		t.Fatalf("inputs: got=%v", got.Inputs)
	}
	if got.Hints.Data().LanguageCode != "en-US" {
		t.Fatalf("hints: want en-US got=%q", got.Hints.Data().LanguageCode)
	}

	byExt, err := repo.GetByExternalID(dbc, "gcp_speech", job.ExternalJobID)
	if err != nil || byExt.ID != job.ID {
		t.Fatalf("GetByExternalID: want=%s got=%v err=%v", job.ID, byExt, err)
	}

	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("GetByID missing: want ErrJobNotFound got=%v", err)
	}
}

func TestJobRepoRejectsDuplicateExternalID(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	a := testutil.NewJob("asynctask")
	if err := repo.Create(dbc, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	b := testutil.NewJob("asynctask")
	b.ExternalJobID = a.ExternalJobID
	if err := repo.Create(dbc, b); !errors.Is(err, ErrDuplicateExternalID) {
		t.Fatalf("duplicate: want ErrDuplicateExternalID got=%v", err)
	}

	// Same external id under another provider is a different job.
	c := testutil.NewJob("gcp_speech")
	c.ExternalJobID = a.ExternalJobID
	if err := repo.Create(dbc, c); err != nil {
		t.Fatalf("other provider: %v", err)
	}
}

func TestJobRepoSaveKeepsImmutableColumns(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := testutil.NewJob("asynctask")
	if err := repo.Create(dbc, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	origExt := job.ExternalJobID

	now := time.Now().UTC()
	job.Status = domain.StatusRunning
	job.LastPolledAt = &now
	job.LastPollError = "asynctask fetch: Throttled: slow down"
	job.ExternalJobID = "tampered"
	job.Inputs = []string{"gs://x/y"}
	if err := repo.Save(dbc, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.StatusRunning {
		t.Fatalf("status: want RUNNING got=%s", got.Status)
	}
	if got.LastPolledAt == nil || got.LastPollError == "" {
		t.Fatalf("poll fields not saved: %+v", got)
	}
	if got.ExternalJobID != origExt {
		t.Fatalf("external id rewritten: want=%s got=%s", origExt, got.ExternalJobID)
	}
	if len(got.Inputs) != 1 || got.Inputs[0] != "gs://bucket/audio.flac" {
		t.Fatalf("inputs rewritten: got=%v", got.Inputs)
	}

	missing := testutil.NewJob("asynctask")
	if err := repo.Save(dbc, missing); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Save missing: want ErrJobNotFound got=%v", err)
	}
}

func TestJobRepoListByOwner(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		j := testutil.NewJob("asynctask")
		j.OwnerContext = "alice"
		j.SubmittedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(dbc, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	other := testutil.NewJob("asynctask")
	other.OwnerContext = "bob"
	if err := repo.Create(dbc, other); err != nil {
		t.Fatalf("Create: %v", err)
	}

	jobs, err := repo.ListByOwner(dbc, "alice", 2)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("ListByOwner: want=2 got=%d", len(jobs))
	}
	if !jobs[0].SubmittedAt.After(jobs[1].SubmittedAt) {
		t.Fatalf("ListByOwner: want newest first")
	}
}

func TestJobRepoWithJobLockSerializes(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()

	job := testutil.NewJob("asynctask")
	if err := repo.Create(dbctx.Context{Ctx: ctx}, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.WithJobLock(ctx, job.ID, func(dbc dbctx.Context, locked *domain.Job) error {
				locked.RetryCount++
				return repo.Save(dbc, locked)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WithJobLock: %v", err)
		}
	}

	got, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.RetryCount != workers {
		t.Fatalf("lost updates: want=%d got=%d", workers, got.RetryCount)
	}

	if err := repo.WithJobLock(ctx, uuid.New(), func(dbctx.Context, *domain.Job) error { return nil }); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("missing job: want ErrJobNotFound got=%v", err)
	}
}

func TestJobRepoWithJobLockRollsBackOnError(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()

	job := testutil.NewJob("asynctask")
	if err := repo.Create(dbctx.Context{Ctx: ctx}, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	boom := errors.New("boom")
	err := repo.WithJobLock(ctx, job.ID, func(dbc dbctx.Context, locked *domain.Job) error {
		locked.Status = domain.StatusRunning
		if err := repo.Save(dbc, locked); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithJobLock: want boom got=%v", err)
	}
	got, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("rollback: want PENDING got=%s", got.Status)
	}
}
