package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostIndexEntry is the indexed summary of one post.
type PostIndexEntry struct {
	ID        string
	Title     string
	Category  string
	CreatedAt string
}

// Counts are always recomputed from blog_posts, never incremented, so a
// drifted value heals on the next write touching that category.
const recountCategorySQL = `UPDATE categories
SET post_count = (SELECT COUNT(*) FROM blog_posts WHERE blog_posts.category = categories.name)
WHERE name = ?`

// IndexPost upserts the index row for e and recounts its category, plus the
// previous category when the post moved.
func (s *Store) IndexPost(ctx context.Context, e PostIndexEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var prev sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT category FROM blog_posts WHERE id = ?`, e.ID).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read indexed category: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO blog_posts (id, title, category, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				category = excluded.category,
				created_at = excluded.created_at`,
			e.ID, e.Title, e.Category, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert post index: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO categories (name) VALUES (?)`, e.Category); err != nil {
			return fmt.Errorf("ensure category: %w", err)
		}
		if err := recountCategory(ctx, tx, e.Category); err != nil {
			return err
		}
		if prev.Valid && prev.String != e.Category {
			return recountCategory(ctx, tx, prev.String)
		}
		return nil
	})
}

// UnindexPost removes the index row for id and recounts its category. It
// is a no-op when id is not indexed.
func (s *Store) UnindexPost(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var category sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT category FROM blog_posts WHERE id = ?`, id).Scan(&category)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read indexed category: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM blog_posts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete post index: %w", err)
		}
		if category.Valid {
			return recountCategory(ctx, tx, category.String)
		}
		return nil
	})
}

// RecountCategories recomputes post_count for every category, creating rows
// for categories that only exist in the index.
func (s *Store) RecountCategories(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO categories (name)
			SELECT DISTINCT category FROM blog_posts WHERE category IS NOT NULL`)
		if err != nil {
			return fmt.Errorf("ensure categories: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE categories
			SET post_count = (SELECT COUNT(*) FROM blog_posts WHERE blog_posts.category = categories.name)`)
		if err != nil {
			return fmt.Errorf("recount categories: %w", err)
		}
		return nil
	})
}

// IndexedIDs returns the ids of all indexed posts.
func (s *Store) IndexedIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM blog_posts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list indexed posts: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func recountCategory(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, recountCategorySQL, name); err != nil {
		return fmt.Errorf("recount category %q: %w", name, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
