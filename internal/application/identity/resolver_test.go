package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
	"github.com/InahHwang/d-care-console-sub007/internal/infra/db/memory"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func newDirectory() *memory.Directory {
	dir := memory.NewDirectory()
	dir.Upsert(patients.Identity{ID: "p-kim", Name: "Kim", PrimaryPhone: "01012345678"},
		patients.PhoneSet{Primary: "01012345678"})
	dir.Upsert(patients.Identity{ID: "p-lee", Name: "Lee", PrimaryPhone: "0311112222"},
		patients.PhoneSet{Primary: "0311112222", Mobile: "010-5555-6666", Work: "02-777-8888"})
	dir.Upsert(patients.Identity{ID: "p-new", Name: "Park", LastContactAt: date("2024-05-01")},
		patients.PhoneSet{Primary: "011-9876-5432"})
	dir.Upsert(patients.Identity{ID: "p-old", Name: "Choi", LastContactAt: date("2023-01-01")},
		patients.PhoneSet{Primary: "016-9876-5432"})
	return dir
}

func TestResolve_TierOneExact(t *testing.T) {
	r := NewResolver(newDirectory(), nil)

	m, err := r.Resolve(context.Background(), "010-1234-5678")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, patients.PatientID("p-kim"), m.Identity.ID)
	assert.Equal(t, patients.ConfidenceHigh, m.Confidence)
	assert.Equal(t, patients.MatchExact, m.MatchType)
	assert.Equal(t, patients.TierPrimary, m.Tier)
}

func TestResolve_SeparatorVariantsAgree(t *testing.T) {
	r := NewResolver(newDirectory(), nil)
	var first *patients.Match
	for _, in := range []string{"010-1234-5678", "010 1234 5678", "(010)1234-5678", "01012345678"} {
		m, err := r.Resolve(context.Background(), in)
		require.NoError(t, err)
		if first == nil {
			first = m
			continue
		}
		assert.Equal(t, first, m, in)
	}
}

func TestResolve_TierTwoAuxiliary(t *testing.T) {
	r := NewResolver(newDirectory(), nil)

	m, err := r.Resolve(context.Background(), "01055556666")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, patients.PatientID("p-lee"), m.Identity.ID)
	assert.Equal(t, patients.ConfidenceHigh, m.Confidence)
	assert.Equal(t, patients.TierAuxiliary, m.Tier)

	m, err = r.Resolve(context.Background(), "027778888")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, patients.PatientID("p-lee"), m.Identity.ID)
}

func TestResolve_SuffixPrefersMostRecentContact(t *testing.T) {
	r := NewResolver(newDirectory(), nil)

	m, err := r.Resolve(context.Background(), "01098765432")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, patients.PatientID("p-new"), m.Identity.ID)
	assert.Equal(t, patients.ConfidenceLow, m.Confidence)
	assert.Equal(t, patients.MatchSimilar, m.MatchType)
	assert.Equal(t, patients.TierSuffix, m.Tier)
}

func TestResolve_FourDigitSuffixFallback(t *testing.T) {
	dir := newDirectory()
	r := NewResolver(dir, nil)

	// nothing ends in 99995678, only Kim ends in 5678
	m, err := r.Resolve(context.Background(), "010-9999-5678")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, patients.MatchSimilar, m.MatchType)
	assert.Equal(t, 2, dir.SuffixLookups)
}

func TestResolve_ShortInputSkipsFuzzy(t *testing.T) {
	dir := newDirectory()
	r := NewResolver(dir, nil)

	m, err := r.Resolve(context.Background(), "5432")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = r.Resolve(context.Background(), "876-5432")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Zero(t, dir.SuffixLookups)
}

func TestResolve_NoMatch(t *testing.T) {
	r := NewResolver(newDirectory(), nil)
	m, err := r.Resolve(context.Background(), "070-0000-0001")
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = r.Resolve(context.Background(), "private")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_DoesNotMutateDirectory(t *testing.T) {
	dir := newDirectory()
	before, _ := dir.Identity("p-new")

	_, err := NewResolver(dir, nil).Resolve(context.Background(), "01098765432")
	require.NoError(t, err)

	after, _ := dir.Identity("p-new")
	assert.Equal(t, before, after)
}

type failingDirectory struct{ patients.Directory }

func (failingDirectory) FindByPrimaryPhone(context.Context, string) (*patients.Identity, error) {
	return nil, errors.New("directory down")
}

func TestResolve_PropagatesLookupError(t *testing.T) {
	_, err := NewResolver(failingDirectory{}, nil).Resolve(context.Background(), "01012345678")
	assert.EqualError(t, err, "directory down")
}

func TestMostRecent_Ties(t *testing.T) {
	got := mostRecent([]patients.Identity{
		{ID: "b"},
		{ID: "a"},
		{ID: "c", LastContactAt: date("2020-01-01")},
	})
	assert.Equal(t, patients.PatientID("c"), got.ID)

	got = mostRecent([]patients.Identity{{ID: "b"}, {ID: "a"}})
	assert.Equal(t, patients.PatientID("a"), got.ID)
}
