package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

// Directory is an in-memory patient directory with a canonical phone index.
// It also applies profile updates so local runs see enrichment.
type Directory struct {
	mu         sync.RWMutex
	identities map[patients.PatientID]patients.Identity
	phones     []patients.IndexedPhone

	// SuffixLookups counts FindByPhoneSuffix calls.
	SuffixLookups int
}

func NewDirectory() *Directory {
	return &Directory{identities: make(map[patients.PatientID]patients.Identity)}
}

// Upsert stores an identity and indexes its phones.
func (d *Directory) Upsert(id patients.Identity, phones patients.PhoneSet) {
	d.mu.Lock()
	d.identities[id.ID] = id
	d.mu.Unlock()
	_ = d.IndexPhones(context.Background(), id.ID, phones)
}

// Identity returns a stored identity.
func (d *Directory) Identity(id patients.PatientID) (patients.Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.identities[id]
	return p, ok
}

func (d *Directory) IndexPhones(_ context.Context, id patients.PatientID, phones patients.PhoneSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.phones[:0]
	for _, p := range d.phones {
		if p.PatientID != id {
			kept = append(kept, p)
		}
	}
	d.phones = append(kept, phones.Index(id)...)
	return nil
}

func (d *Directory) FindByPrimaryPhone(_ context.Context, digits string) (*patients.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.first(func(p patients.IndexedPhone) bool {
		return p.Kind == patients.PhonePrimary && p.Digits == digits
	}), nil
}

func (d *Directory) FindByAuxiliaryPhone(_ context.Context, digits string) (*patients.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, kind := range patients.AuxiliaryKinds {
		if id := d.first(func(p patients.IndexedPhone) bool {
			return p.Kind == kind && p.Digits == digits
		}); id != nil {
			return id, nil
		}
	}
	return nil, nil
}

func (d *Directory) FindByPhoneSuffix(_ context.Context, suffix string) ([]patients.Identity, error) {
	d.mu.Lock()
	d.SuffixLookups++
	d.mu.Unlock()

	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[patients.PatientID]bool)
	var out []patients.Identity
	for _, p := range d.phones {
		if suffix == "" || !strings.HasSuffix(p.Digits, suffix) || seen[p.PatientID] {
			continue
		}
		id, ok := d.identities[p.PatientID]
		if !ok {
			continue
		}
		seen[p.PatientID] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) first(match func(patients.IndexedPhone) bool) *patients.Identity {
	var ids []patients.PatientID
	for _, p := range d.phones {
		if match(p) {
			if _, ok := d.identities[p.PatientID]; ok {
				ids = append(ids, p.PatientID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	id := d.identities[ids[0]]
	return &id
}

func (d *Directory) ApplyAnalysis(_ context.Context, id patients.PatientID, u patients.ProfileUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.identities[id]
	if !ok {
		return nil
	}
	if u.Temperature != "" {
		p.Temperature = u.Temperature
	}
	if u.Name != "" && p.Name == "" {
		p.Name = u.Name
	}
	if u.Status != "" {
		p.Status = u.Status
	}
	d.identities[id] = p
	return nil
}
