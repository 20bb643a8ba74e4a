package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spigell/cv-intake/internal/domain"
)

// CreateApplication inserts an application without résumé or scoring data.
func (db *DB) CreateApplication(ctx context.Context, in domain.NewApplication) (*domain.Application, error) {
	a := domain.Application{
		JobPostingID:   in.JobPostingID,
		CompanyID:      in.CompanyID,
		CandidateName:  in.CandidateName,
		CandidateEmail: in.CandidateEmail,
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO applications (job_posting_id, company_id, candidate_name, candidate_email)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		in.JobPostingID, in.CompanyID, in.CandidateName, in.CandidateEmail,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &a, nil
}

// UpdateApplicationParsedResume attaches the stored résumé location and its parsed form.
func (db *DB) UpdateApplicationParsedResume(ctx context.Context, id uuid.UUID, location string, doc *domain.ParsedResume) error {
	var docJSON []byte
	if doc != nil {
		var err error
		docJSON, err = json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal parsed resume: %w", err)
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE applications SET resume_location = $1, parsed_resume = $2, updated_at = NOW() WHERE id = $3`,
		nullIfEmpty(location), docJSON, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update parsed resume: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update parsed resume: application %s not found", id)
	}
	return nil
}

// UpdateApplicationScoring stores the scoring result.
func (db *DB) UpdateApplicationScoring(ctx context.Context, id uuid.UUID, score int, status domain.Status, reasoning string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE applications SET score = $1, status = $2, reasoning = $3, updated_at = NOW() WHERE id = $4`,
		score, string(status), reasoning, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update application scoring: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update application scoring: application %s not found", id)
	}
	return nil
}

// FindApplicationByID retrieves an application by its UUID
func (db *DB) FindApplicationByID(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	var (
		a      domain.Application
		parsed []byte
		status *string
		score  *int32
	)

	err := db.pool.QueryRow(ctx,
		`SELECT id, job_posting_id, company_id, candidate_name, candidate_email,
		        resume_location, parsed_resume, score, status, reasoning, created_at, updated_at
		 FROM applications WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.JobPostingID, &a.CompanyID, &a.CandidateName, &a.CandidateEmail,
		&a.ResumeLocation, &parsed, &score, &status, &a.Reasoning, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	if err := decodeApplication(&a, parsed, score, status); err != nil {
		return nil, err
	}
	return &a, nil
}

func decodeApplication(a *domain.Application, parsed []byte, score *int32, status *string) error {
	if len(parsed) > 0 {
		var doc domain.ParsedResume
		if err := json.Unmarshal(parsed, &doc); err != nil {
			return fmt.Errorf("failed to decode parsed resume: %w", err)
		}
		a.ParsedResume = &doc
	}

	if score != nil {
		v := int(*score)
		a.Score = &v
	}

	if status != nil {
		st, err := domain.ParseStatus(*status)
		if err != nil {
			return fmt.Errorf("failed to decode application status: %w", err)
		}
		a.Status = &st
	}

	return nil
}
