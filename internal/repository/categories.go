package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"invoice-scanner/internal/common"
	"invoice-scanner/internal/entity"
)

type CategoryRepository interface {
	ListCategories(ctx context.Context) ([]*entity.Category, error)
	GetByID(ctx context.Context, id int64) (*entity.Category, error)
	GetByName(ctx context.Context, name string) (*entity.Category, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Seed(ctx context.Context, categories []entity.Category) error
}

type categoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCategoryRepository(db *sql.DB, logger *slog.Logger) CategoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &categoryRepository{db: db, logger: logger}
}

func (r *categoryRepository) ListCategories(ctx context.Context) ([]*entity.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(description, '') FROM product_categories ORDER BY id`)
	if err != nil {
		r.logger.Error("failed to list categories", "error", err)
		return nil, err
	}
	defer rows.Close()

	var result []*entity.Category
	for rows.Next() {
		var c entity.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, rows.Err()
}

func (r *categoryRepository) GetByID(ctx context.Context, id int64) (*entity.Category, error) {
	var c entity.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description, '') FROM product_categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) GetByName(ctx context.Context, name string) (*entity.Category, error) {
	var c entity.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description, '') FROM product_categories WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *categoryRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM product_categories WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Seed inserts the default taxonomy once. Any existing category means
// an operator may have edited the table, so seeding is skipped whole.
func (r *categoryRepository) Seed(ctx context.Context, categories []entity.Category) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM product_categories`).Scan(&count); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		r.logger.Info("categories already present, skipping seed", "count", count)
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO product_categories (name, description) VALUES ($1, $2)`,
			c.Name, c.Description); err != nil {
			return fmt.Errorf("seed category %q: %w", c.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Info("seeded default categories", "count", len(categories))
	return nil
}
