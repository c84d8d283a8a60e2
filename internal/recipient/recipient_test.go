package recipient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/repo"
)

func ptr(s string) *string { return &s }

type brokenPrefs struct {
	repo.PreferenceRepository
}

func (brokenPrefs) GetPreference(context.Context, string) (*model.Preference, error) {
	return nil, errors.New("db down")
}

func (brokenPrefs) ListOptedOut(context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

type brokenDirectory struct {
	repo.Directory
}

func (brokenDirectory) FindProfiles(context.Context, repo.DirectoryQuery) ([]model.Profile, int, error) {
	return nil, 0, errors.New("directory unavailable")
}

func seeded(t *testing.T) *repo.MemoryStore {
	t.Helper()
	s := repo.NewMemoryStore()
	s.AddProfile(model.Profile{ID: "u1", FirstName: "Ann", LastName: "Avery", Phone: ptr("+15550000001"), Team: ptr("north")})
	s.AddProfile(model.Profile{ID: "u2", FirstName: "Bob", LastName: "Baker", Phone: ptr("+15550000002"), Team: ptr("north")})
	s.AddProfile(model.Profile{ID: "u3", FirstName: "Cy", LastName: "Cole", Team: ptr("north")})
	s.AddProfile(model.Profile{ID: "u4", FirstName: "Di", LastName: "Dunn", Phone: ptr("+15550000004"), Team: ptr("south")})
	return s
}

func TestGetRecipientsByFilter_ExcludesOptedOutAndPhoneless(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	_, err := s.UpsertPreference(context.Background(), "u2", true, "STOP")
	require.NoError(t, err)

	r := NewResolver(s, s, nil)
	page, err := r.GetRecipientsByFilter(context.Background(), model.OrganizationFilter{Teams: []string{"north"}}, RequireAtLeastOneFilter, 0, 0)
	require.NoError(t, err)

	require.Len(t, page.Recipients, 1)
	assert.Equal(t, "u1", page.Recipients[0].ID)
	assert.Equal(t, 1, page.Total)
}

func TestGetRecipientsByFilter_SetFilterAndPaging(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	r := NewResolver(s, s, nil)

	page, err := r.GetRecipientsByFilter(context.Background(), model.OrganizationFilter{Teams: []string{"north", "south"}}, MatchAll, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Recipients, 1)
	assert.Equal(t, "u2", page.Recipients[0].ID)
}

func TestGetRecipientsByFilter_EmptyFilterModes(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	r := NewResolver(s, s, nil)

	page, err := r.GetRecipientsByFilter(context.Background(), model.OrganizationFilter{}, RequireAtLeastOneFilter, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Recipients)
	assert.Zero(t, page.Total)

	page, err = r.GetRecipientsByFilter(context.Background(), model.OrganizationFilter{}, MatchAll, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
}

func TestGetRecipientsByFilter_DirectoryFailurePropagates(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	r := NewResolver(brokenDirectory{}, s, nil)

	_, err := r.GetRecipientsByFilter(context.Background(), model.OrganizationFilter{Teams: []string{"north"}}, MatchAll, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDirectoryQueryFailed)
}

func TestGetRecipientsByIDs(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	r := NewResolver(s, s, nil)

	found, missing, err := r.GetRecipientsByIDs(context.Background(), []string{"u1", "ghost", "u3", "u1"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "u1", found[0].ID)
	assert.Equal(t, "u3", found[1].ID)
	assert.Equal(t, []string{"ghost"}, missing)
}

func TestHasUserOptedOut(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	r := NewResolver(s, s, nil)
	ctx := context.Background()

	assert.False(t, r.HasUserOptedOut(ctx, "u1"), "no record means opted in")

	_, err := r.SetOptOut(ctx, "u1", true, "STOP")
	require.NoError(t, err)
	assert.True(t, r.HasUserOptedOut(ctx, "u1"))

	_, err = r.SetOptOut(ctx, "u1", false, "START")
	require.NoError(t, err)
	assert.False(t, r.HasUserOptedOut(ctx, "u1"))
}

func TestHasUserOptedOut_LookupFailureMeansOptedIn(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	r := NewResolver(s, brokenPrefs{}, nil)
	assert.False(t, r.HasUserOptedOut(context.Background(), "u1"))
}

func TestValidateRecipients_PartitionsWithSingleReason(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	_, _ = s.UpsertPreference(ctx, "u2", true, "")
	_, _ = s.UpsertPreference(ctx, "u3", true, "")

	recs := []model.Recipient{
		{ID: "u1", Phone: ptr("+15550000001")},
		{ID: "u2", Phone: ptr("+15550000002")},
		{ID: "u3"},
		{ID: "u5", Phone: ptr("   ")},
	}

	v := NewValidator(NewResolver(s, s, nil), PhoneFirst)
	valid, invalid := v.ValidateRecipients(ctx, recs)

	assert.Equal(t, len(recs), len(valid)+len(invalid))
	require.Len(t, valid, 1)
	assert.Equal(t, "u1", valid[0].ID)

	reasons := map[string]string{}
	for _, inv := range invalid {
		reasons[inv.Recipient.ID] = inv.Reason
	}
	assert.Equal(t, map[string]string{
		"u2": ReasonOptedOut,
		"u3": ReasonMissingPhone,
		"u5": ReasonMissingPhone,
	}, reasons)
}

func TestValidateRecipients_OptOutFirstOrder(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	ctx := context.Background()
	_, _ = s.UpsertPreference(ctx, "u3", true, "")

	v := NewValidator(NewResolver(s, s, nil), OptOutFirst)
	_, invalid := v.ValidateRecipients(ctx, []model.Recipient{{ID: "u3"}})

	require.Len(t, invalid, 1)
	assert.Equal(t, ReasonOptedOut, invalid[0].Reason)
}

func TestValidateRecipients_Empty(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	v := NewValidator(NewResolver(s, s, nil), PhoneFirst)
	valid, invalid := v.ValidateRecipients(context.Background(), nil)
	assert.Empty(t, valid)
	assert.Empty(t, invalid)
}

func TestValidateRecipients_OptOutListFailureDegrades(t *testing.T) {
	t.Parallel()

	s := seeded(t)
	v := NewValidator(NewResolver(s, brokenPrefs{}, nil), PhoneFirst)
	valid, invalid := v.ValidateRecipients(context.Background(), []model.Recipient{{ID: "u1", Phone: ptr("+1")}})
	assert.Len(t, valid, 1)
	assert.Empty(t, invalid)
}

func TestReason(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		order    CheckOrder
		hasPhone bool
		optedOut bool
		want     string
	}{
		{"sendable", PhoneFirst, true, false, ""},
		{"both phone first", PhoneFirst, false, true, ReasonMissingPhone},
		{"both opt-out first", OptOutFirst, false, true, ReasonOptedOut},
		{"only opted out", PhoneFirst, true, true, ReasonOptedOut},
		{"only phone", OptOutFirst, false, false, ReasonMissingPhone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reason(tc.order, tc.hasPhone, tc.optedOut))
		})
	}
}

func TestParseFilterMode(t *testing.T) {
	t.Parallel()

	m, err := ParseFilterMode("")
	require.NoError(t, err)
	assert.Equal(t, RequireAtLeastOneFilter, m)

	m, err = ParseFilterMode("match_all")
	require.NoError(t, err)
	assert.Equal(t, MatchAll, m)

	_, err = ParseFilterMode("everything")
	assert.Error(t, err)
}
