package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/skillport/internal/model"
)

func TestPostgresProfileRepo_CreateIfNotExists_OneRowPerID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	p := newTestProfile(model.RoleParticipant, time.Now())
	mustCreateProfile(t, repo, p)

	dup := *p
	dup.Name = "other"
	dup.Role = model.RoleAdmin
	created, err := repo.CreateIfNotExists(ctx, &dup)
	if err != nil {
		t.Fatalf("CreateIfNotExists(duplicate): %v", err)
	}
	if created {
		t.Error("CreateIfNotExists(duplicate) = true, want false")
	}

	got, err := repo.FindByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil {
		t.Fatal("FindByID returned nil")
	}
	if got.Name != "user" || got.Role != model.RoleParticipant {
		t.Errorf("profile = %+v, want the first insert to win", got)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM profiles WHERE id = $1`, p.ID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestPostgresProfileRepo_CreateIfNotExists_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresProfileRepo(db)

	p := newTestProfile(model.RoleParticipant, time.Now())

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *p
			ok, err := repo.CreateIfNotExists(context.Background(), &cp)
			if err != nil {
				t.Errorf("CreateIfNotExists: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want exactly 1", created)
	}
}

func TestPostgresProfileRepo_FindByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresProfileRepo(db)

	got, err := repo.FindByID(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got != nil {
		t.Errorf("FindByID = %+v, want nil", got)
	}
}

func TestPostgresProfileRepo_Updates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	p := newTestProfile(model.RoleParticipant, time.Now())
	mustCreateProfile(t, repo, p)

	if err := repo.UpdateName(ctx, p.ID, "Renamed"); err != nil {
		t.Fatalf("UpdateName: %v", err)
	}
	if err := repo.UpdateRoleAndStatus(ctx, p.ID, model.RoleEducator, model.ProfileStatusSuspended); err != nil {
		t.Fatalf("UpdateRoleAndStatus: %v", err)
	}

	got, err := repo.FindByID(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	if got.Name != "Renamed" || got.Role != model.RoleEducator || got.Status != model.ProfileStatusSuspended {
		t.Errorf("profile = %+v", got)
	}

	err = repo.UpdateName(ctx, uuid.New().String(), "ghost")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("UpdateName(missing) error = %v, want USER_NOT_FOUND", err)
	}
}

func TestPostgresProfileRepo_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresProfileRepo(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	oldest := newTestProfile(model.RoleEducator, base)
	middle := newTestProfile(model.RoleParticipant, base.Add(time.Minute))
	newest := newTestProfile(model.RoleEducator, base.Add(2*time.Minute))
	for _, p := range []*model.Profile{oldest, middle, newest} {
		mustCreateProfile(t, repo, p)
	}

	tests := []struct {
		name   string
		role   model.Role
		limit  int
		offset int
		want   []string
	}{
		{"all roles", "", 10, 0, []string{newest.ID, middle.ID, oldest.ID}},
		{"educators only", model.RoleEducator, 10, 0, []string{newest.ID, oldest.ID}},
		{"no match", model.RoleAdmin, 10, 0, nil},
		{"limit", "", 2, 0, []string{newest.ID, middle.ID}},
		{"offset", "", 10, 2, []string{oldest.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.role, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, p := range got {
				if p.ID != tt.want[i] {
					t.Errorf("[%d] id = %s, want %s", i, p.ID, tt.want[i])
				}
			}
		})
	}
}
