package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/skillport/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, email, name, role, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var role, status string
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	p.Status = model.ProfileStatus(status)
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return p, nil
}

// CreateIfNotExists はプロフィールを作成する。同一IDの行が既に存在する場合は何もしない。
func (r *PostgresProfileRepo) CreateIfNotExists(ctx context.Context, p *model.Profile) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, name, role, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.Name, string(p.Role), string(p.Status), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateName は表示名を更新する。
func (r *PostgresProfileRepo) UpdateName(ctx context.Context, id, name string) error {
	return r.execUpdate(ctx,
		`UPDATE profiles SET name = $2, updated_at = now() WHERE id = $1`,
		id, name,
	)
}

// UpdateRoleAndStatus はロールとステータスを更新する。
func (r *PostgresProfileRepo) UpdateRoleAndStatus(ctx context.Context, id string, role model.Role, status model.ProfileStatus) error {
	return r.execUpdate(ctx,
		`UPDATE profiles SET role = $2, status = $3, updated_at = now() WHERE id = $1`,
		id, string(role), string(status),
	)
}

func (r *PostgresProfileRepo) execUpdate(ctx context.Context, query, id string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.NewUserNotFoundError()
	}
	return nil
}

// List はプロフィール一覧をcreated_at降順で返す。
func (r *PostgresProfileRepo) List(ctx context.Context, role model.Role, limit, offset int) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles
		 WHERE ($1 = '' OR role = $1)
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		string(role), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
