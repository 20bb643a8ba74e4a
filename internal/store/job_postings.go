package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spigell/cv-intake/internal/domain"
)

// openStatusSQL mirrors domain.JobPosting.IsOpen.
const openStatusSQL = `(status IS NULL OR btrim(status) = '' OR lower(btrim(status)) IN ('active', 'open'))`

// FindOpenJobPostingByNormalizedTitle returns the newest open posting whose
// trimmed, lower-cased title equals normalized. Titles are trimmed with
// domain.TitleCutset to match domain.NormalizeTitle.
func (db *DB) FindOpenJobPostingByNormalizedTitle(ctx context.Context, normalized string) (*domain.JobPosting, error) {
	var (
		p           domain.JobPosting
		meetingLink *string
	)

	err := db.pool.QueryRow(ctx,
		`SELECT id, company_id, title, COALESCE(description, ''), COALESCE(required_skills, '{}'),
		        deadline, meeting_link, status, created_at
		 FROM job_postings
		 WHERE lower(btrim(title, $2)) = $1 AND `+openStatusSQL+`
		 ORDER BY created_at DESC
		 LIMIT 1`,
		normalized, domain.TitleCutset,
	).Scan(&p.ID, &p.CompanyID, &p.Title, &p.Description, &p.RequiredSkills,
		&p.Deadline, &meetingLink, &p.Status, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job posting: %w", err)
	}

	p.MeetingLink = derefString(meetingLink)
	return &p, nil
}
