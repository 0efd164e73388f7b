package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `p.id, p.external_id, p.first_name, p.last_name, p.birth_date, p.phone_number,
	p.photo_reference, p.external_updated_at, p.created_at, p.updated_at`

func (r *patientRepoPG) ExternalVersions(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.external_id, p.external_updated_at
		FROM patient p
		JOIN user_patient up ON up.patient_id = p.id
		WHERE up.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query patient versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]string)
	for rows.Next() {
		var extID, version string
		if err := rows.Scan(&extID, &version); err != nil {
			return nil, fmt.Errorf("scan patient version: %w", err)
		}
		versions[extID] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient versions: %w", err)
	}
	return versions, nil
}

func (r *patientRepoPG) CreateForUser(ctx context.Context, userID string, p *Patient) (bool, error) {
	created := true
	err := r.pool.QueryRow(ctx, `
		INSERT INTO patient (
			id, external_id, first_name, last_name, birth_date, phone_number,
			photo_reference, external_updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		uuid.New(), p.ExternalID, p.FirstName, p.LastName, p.BirthDate, p.PhoneNumber,
		p.PhotoReference, p.ExternalUpdatedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Another user already owns a patient with this external id.
		created = false
		err = r.pool.QueryRow(ctx,
			`SELECT id, created_at, updated_at FROM patient WHERE external_id = $1`, p.ExternalID,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	}
	if err != nil {
		return false, fmt.Errorf("create patient %s: %w", p.ExternalID, err)
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO user_patient (user_id, patient_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, p.ID); err != nil {
		return created, fmt.Errorf("associate patient %s: %w", p.ExternalID, err)
	}
	return created, nil
}

func (r *patientRepoPG) UpdateForUser(ctx context.Context, userID string, p *Patient) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient p SET
			first_name=$3, last_name=$4, birth_date=$5, phone_number=$6,
			photo_reference=$7, external_updated_at=$8, updated_at=NOW()
		FROM user_patient up
		WHERE up.patient_id = p.id AND up.user_id = $1 AND p.external_id = $2`,
		userID, p.ExternalID, p.FirstName, p.LastName, p.BirthDate, p.PhoneNumber,
		p.PhotoReference, p.ExternalUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update patient %s: %w", p.ExternalID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *patientRepoPG) GetForUser(ctx context.Context, userID string, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.pool.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patient p
		JOIN user_patient up ON up.patient_id = p.id
		WHERE up.user_id = $1 AND p.id = $2`, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

func (r *patientRepoPG) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_patient WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients of %s: %w", userID, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+patientCols+`
		FROM patient p
		JOIN user_patient up ON up.patient_id = p.id
		WHERE up.user_id = $1
		ORDER BY p.created_at, p.id
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients of %s: %w", userID, err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate patients of %s: %w", userID, err)
	}
	return patients, total, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ExternalID, &p.FirstName, &p.LastName, &p.BirthDate, &p.PhoneNumber,
		&p.PhotoReference, &p.ExternalUpdatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	return &p, nil
}
