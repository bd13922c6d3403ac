// Package registry reads the patient and encounter rows that the registry
// and clinical services replicate into the billing schema. Billing never
// writes them.
package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medflow/billing/internal/platform/db"
)

type Patient struct {
	ID   uuid.UUID `json:"id"`
	UHID string    `json:"uhid"`
	Name string    `json:"name"`
}

// Reader answers the reference questions billing needs before it accepts
// a bill or a policy.
type Reader interface {
	// EncounterBelongsTo reports whether the encounter exists and is for the
	// given patient.
	EncounterBelongsTo(ctx context.Context, encounterID, patientID uuid.UUID) (bool, error)
	// Patient returns nil, nil when the patient is unknown.
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

type readerPG struct{ pool *pgxpool.Pool }

func NewReaderPG(pool *pgxpool.Pool) Reader { return &readerPG{pool: pool} }

func (r *readerPG) EncounterBelongsTo(ctx context.Context, encounterID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registry_encounter WHERE id = $1 AND patient_id = $2)`,
		encounterID, patientID).Scan(&ok)
	return ok, err
}

func (r *readerPG) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT id, uhid, name FROM registry_patient WHERE id = $1`, id).Scan(&p.ID, &p.UHID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Static is an in-memory Reader for tools and tests.
type Static struct {
	Patients   map[uuid.UUID]Patient
	Encounters map[uuid.UUID]uuid.UUID // encounter -> patient
}

func NewStatic() *Static {
	return &Static{Patients: map[uuid.UUID]Patient{}, Encounters: map[uuid.UUID]uuid.UUID{}}
}

// Add registers a patient with one encounter and returns both ids.
func (s *Static) Add(uhid, name string) (patientID, encounterID uuid.UUID) {
	patientID, encounterID = uuid.New(), uuid.New()
	s.Patients[patientID] = Patient{ID: patientID, UHID: uhid, Name: name}
	s.Encounters[encounterID] = patientID
	return patientID, encounterID
}

func (s *Static) EncounterBelongsTo(_ context.Context, encounterID, patientID uuid.UUID) (bool, error) {
	owner, ok := s.Encounters[encounterID]
	return ok && owner == patientID, nil
}

func (s *Static) Patient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := s.Patients[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
