// Package contacts manages a user's saved external email recipients.
package contacts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidblink/backend/internal/models"
)

// ErrDuplicate means the owner already saved that address.
var ErrDuplicate = errors.New("contact already exists")

// Repository handles contact persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a contacts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the owner's contacts ordered by name then email.
func (r *Repository) List(ctx context.Context, ownerID uuid.UUID) ([]models.Contact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, owner_id, email, COALESCE(name,''), created_at
		 FROM contacts WHERE owner_id = $1 ORDER BY COALESCE(name,''), email`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Contact
	for rows.Next() {
		var ct models.Contact
		if err := rows.Scan(&ct.ID, &ct.OwnerID, &ct.Email, &ct.Name, &ct.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, ct)
	}
	return list, rows.Err()
}

// Create saves a contact. The unique (owner_id, email) constraint surfaces as
// ErrDuplicate.
func (r *Repository) Create(ctx context.Context, ownerID uuid.UUID, email, name string) (*models.Contact, error) {
	const q = `INSERT INTO contacts (owner_id, email, name)
		VALUES ($1, $2, NULLIF($3,''))
		RETURNING id, owner_id, email, COALESCE(name,''), created_at`
	var ct models.Contact
	err := r.pool.QueryRow(ctx, q, ownerID, email, name).
		Scan(&ct.ID, &ct.OwnerID, &ct.Email, &ct.Name, &ct.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &ct, nil
}

// Delete removes the owner's contact. Unknown ids return models.ErrNotFound.
func (r *Repository) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
