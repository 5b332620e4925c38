package storage

import (
	"context"

	"github.com/md-rashed-zaman/medbook/services/booking-service/internal/model"
)

type ProviderRepository struct {
	db DB
}

func NewProviderRepository(conn DB) *ProviderRepository {
	return &ProviderRepository{db: conn}
}

const providerSelect = `
	SELECT d.id::text, d.name, d.specialization, d.experience_years, d.followers, d.rating::float8,
		COALESCE(d.languages, '{}'), COALESCE(d.about, ''), COALESCE(d.specializations, '{}'),
		COALESCE(d.concerns_treated, '{}'), COALESCE(d.image, ''), COALESCE(d.location, ''),
		COALESCE(d.gender, ''),
		COALESCE(f.in_clinic, 0), COALESCE(f.video, 0), COALESCE(f.chat, 0)
	FROM doctors d
	LEFT JOIN doctor_fees f ON f.doctor_id = d.id`

func scanProvider(row rowScanner) (model.Provider, error) {
	var p model.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Specialization, &p.ExperienceYears, &p.Followers, &p.Rating,
		&p.Languages, &p.About, &p.Specializations, &p.ConcernsTreated, &p.Image, &p.Location, &p.Gender,
		&p.Fees.InClinic, &p.Fees.Video, &p.Fees.Chat)
	if err != nil {
		return model.Provider{}, mapError(err)
	}
	return p, nil
}

// List returns the doctor directory ordered by name.
func (r *ProviderRepository) List(ctx context.Context) ([]model.Provider, error) {
	rows, err := r.db.Query(ctx, providerSelect+`
		ORDER BY d.name, d.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	providers := []model.Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachExperience(ctx, providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *ProviderRepository) Get(ctx context.Context, providerID string) (model.Provider, error) {
	p, err := scanProvider(r.db.QueryRow(ctx, providerSelect+`
		WHERE d.id = $1
	`, providerID))
	if err != nil {
		return model.Provider{}, err
	}
	list := []model.Provider{p}
	if err := r.attachExperience(ctx, list); err != nil {
		return model.Provider{}, err
	}
	return list[0], nil
}

func (r *ProviderRepository) attachExperience(ctx context.Context, providers []model.Provider) error {
	if len(providers) == 0 {
		return nil
	}
	index := make(map[string]int, len(providers))
	ids := make([]string, 0, len(providers))
	for i, p := range providers {
		index[p.ID] = i
		ids = append(ids, p.ID)
	}

	rows, err := r.db.Query(ctx, `
		SELECT doctor_id::text, position, hospital, duration
		FROM work_experience
		WHERE doctor_id = ANY($1::uuid[])
		ORDER BY doctor_id, sort_order, id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			doctorID string
			w        model.WorkExperience
		)
		if err := rows.Scan(&doctorID, &w.Position, &w.Hospital, &w.Duration); err != nil {
			return err
		}
		if i, ok := index[doctorID]; ok {
			providers[i].WorkExperience = append(providers[i].WorkExperience, w)
		}
	}
	return rows.Err()
}
