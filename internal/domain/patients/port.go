package patients

import "context"

// Directory port. Lookups take canonical digits; a miss is (nil, nil).
type Directory interface {
	FindByPrimaryPhone(ctx context.Context, digits string) (*Identity, error)
	FindByAuxiliaryPhone(ctx context.Context, digits string) (*Identity, error)
	FindByPhoneSuffix(ctx context.Context, suffix string) ([]Identity, error)
}

// PhoneIndexer keeps the canonical phone index in sync with directory writes.
type PhoneIndexer interface {
	IndexPhones(ctx context.Context, id PatientID, phones PhoneSet) error
}

// ProfileUpdater applies analysis results to a patient record. Last write wins.
type ProfileUpdater interface {
	ApplyAnalysis(ctx context.Context, id PatientID, update ProfileUpdate) error
}
