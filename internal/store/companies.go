package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spigell/cv-intake/internal/domain"
)

// FindCompanyByID retrieves a company by its UUID
func (db *DB) FindCompanyByID(ctx context.Context, id uuid.UUID) (*domain.Company, error) {
	var (
		c                                   domain.Company
		companyDomain, contact, hr, manager *string
		settings                            []byte
	)

	err := db.pool.QueryRow(ctx,
		`SELECT id, name, domain, contact_email, hr_email, hiring_manager_email, settings
		 FROM companies WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &companyDomain, &contact, &hr, &manager, &settings)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	c.Domain = derefString(companyDomain)
	c.ContactEmail = derefString(contact)
	c.HREmail = derefString(hr)
	c.HiringManagerEmail = derefString(manager)
	if len(settings) > 0 {
		c.Settings = settings
	}

	return &c, nil
}
