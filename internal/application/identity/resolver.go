package identity

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

// Resolver matches a phone number against the patient directory in tiers:
// primary phone, auxiliary phones, then trailing 8 and 4 digit suffixes.
// It only reads the directory.
type Resolver struct {
	Directory patients.Directory
	Logger    *zap.Logger
}

func NewResolver(dir patients.Directory, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{Directory: dir, Logger: log}
}

// Resolve returns (nil, nil) when no tier matches.
func (r *Resolver) Resolve(ctx context.Context, phone string) (*patients.Match, error) {
	digits := patients.NormalizePhone(phone)
	if digits == "" {
		return nil, nil
	}

	id, err := r.Directory.FindByPrimaryPhone(ctx, digits)
	if err != nil {
		return nil, err
	}
	if id != nil {
		return exact(*id, patients.TierPrimary), nil
	}

	id, err = r.Directory.FindByAuxiliaryPhone(ctx, digits)
	if err != nil {
		return nil, err
	}
	if id != nil {
		return exact(*id, patients.TierAuxiliary), nil
	}

	if len(digits) < patients.MinSuffixDigits {
		return nil, nil
	}

	for _, n := range []int{8, 4} {
		candidates, err := r.Directory.FindByPhoneSuffix(ctx, patients.Suffix(digits, n))
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}
		best := mostRecent(candidates)
		r.Logger.Debug("fuzzy caller match",
			zap.Int("suffix_len", n),
			zap.Int("candidates", len(candidates)),
			zap.String("patient_id", string(best.ID)),
		)
		return &patients.Match{
			Identity:   best,
			Confidence: patients.ConfidenceLow,
			MatchType:  patients.MatchSimilar,
			Tier:       patients.TierSuffix,
		}, nil
	}
	return nil, nil
}

func exact(id patients.Identity, tier patients.Tier) *patients.Match {
	return &patients.Match{
		Identity:   id,
		Confidence: patients.ConfidenceHigh,
		MatchType:  patients.MatchExact,
		Tier:       tier,
	}
}

// mostRecent picks the latest last contact; records never contacted lose, ties go to the lower id.
func mostRecent(candidates []patients.Identity) patients.Identity {
	sorted := append([]patients.Identity(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].LastContactAt, sorted[j].LastContactAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}
