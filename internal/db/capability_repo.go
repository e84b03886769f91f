package db

import (
	"context"

	"quora/internal/types"
)

// CapabilityRepository answers capability checks from capability_grants.
type CapabilityRepository struct {
	db DBTX
}

func NewCapabilityRepository(db DBTX) *CapabilityRepository {
	return &CapabilityRepository{db: db}
}

// Has reports whether the user holds the capability in the course module
// or site-wide.
func (r *CapabilityRepository) Has(ctx context.Context, userID int64, capability types.Capability, cmID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM capability_grants
		      WHERE userid = $1 AND capability = $2 AND cmid IN (0, $3))`,
		userID, string(capability), cmID,
	).Scan(&ok)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check capability", err)
	}
	return ok, nil
}

var _ types.Capabilities = (*CapabilityRepository)(nil)
