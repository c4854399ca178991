package patient

import (
	"context"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	// GetForUpdate reads a patient and, inside a transaction, locks its row
	// until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)

	// Persistence collaborator for the integrity auditor.
	ListEncodedFields(ctx context.Context, afterID int64, limit int) ([]EncodedRow, error)
	UpdateEncodedField(ctx context.Context, id int64, kind subrecord.Kind, value *string) error
}
