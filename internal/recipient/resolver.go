package recipient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/repo"
)

var (
	ErrDirectoryQueryFailed   = errors.New("directory query failed")
	ErrPreferenceLookupFailed = errors.New("preference lookup failed")
)

// FilterMode decides what an empty OrganizationFilter means.
type FilterMode int

const (
	// MatchAll treats an empty filter as "every profile with a phone".
	MatchAll FilterMode = iota
	// RequireAtLeastOneFilter returns nothing for an empty filter.
	RequireAtLeastOneFilter
)

func ParseFilterMode(s string) (FilterMode, error) {
	switch s {
	case "", "require_filter":
		return RequireAtLeastOneFilter, nil
	case "match_all":
		return MatchAll, nil
	default:
		return 0, fmt.Errorf("unknown filter mode %q", s)
	}
}

type Page struct {
	Recipients []model.Recipient `json:"recipients"`
	Total      int               `json:"total"`
}

type Resolver struct {
	dir   repo.Directory
	prefs repo.PreferenceRepository
	log   *slog.Logger
}

func NewResolver(dir repo.Directory, prefs repo.PreferenceRepository, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{dir: dir, prefs: prefs, log: log}
}

// GetRecipientsByFilter returns the sendable profiles matching f: phone
// present and not opted out. Total counts matches after the opt-out
// exclusion, independent of limit and offset.
func (r *Resolver) GetRecipientsByFilter(ctx context.Context, f model.OrganizationFilter, mode FilterMode, limit, offset int) (Page, error) {
	if mode == RequireAtLeastOneFilter && f.IsEmpty() {
		return Page{Recipients: []model.Recipient{}}, nil
	}

	optedOut, err := r.prefs.ListOptedOut(ctx)
	if err != nil {
		// An unknown opt-out set must not widen a bulk audience.
		return Page{}, fmt.Errorf("%w: %w", ErrPreferenceLookupFailed, err)
	}

	profiles, total, err := r.dir.FindProfiles(ctx, repo.DirectoryQuery{
		Filter:       f,
		RequirePhone: true,
		ExcludeIDs:   optedOut,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrDirectoryQueryFailed, err)
	}

	out := make([]model.Recipient, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, model.RecipientFromProfile(p))
	}
	return Page{Recipients: out, Total: total}, nil
}

// GetRecipientsByIDs loads explicit recipients. Unknown ids are skipped and
// returned separately. Phone and opt-out are not checked here.
func (r *Resolver) GetRecipientsByIDs(ctx context.Context, ids []string) ([]model.Recipient, []string, error) {
	var (
		found   []model.Recipient
		missing []string
	)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, err := r.dir.FindProfileByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrDirectoryQueryFailed, err)
		}
		if p == nil {
			missing = append(missing, id)
			continue
		}
		found = append(found, model.RecipientFromProfile(*p))
	}
	return found, missing, nil
}

// Lookup returns the recipient with the given id, or nil.
func (r *Resolver) Lookup(ctx context.Context, id string) (*model.Recipient, error) {
	p, err := r.dir.FindProfileByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryQueryFailed, err)
	}
	if p == nil {
		return nil, nil
	}
	rec := model.RecipientFromProfile(*p)
	return &rec, nil
}

// HasUserOptedOut reports the stored preference. A missing record or a
// failed lookup both count as opted in.
func (r *Resolver) HasUserOptedOut(ctx context.Context, recipientID string) bool {
	p, err := r.prefs.GetPreference(ctx, recipientID)
	if err != nil {
		r.log.Warn("preference lookup failed, assuming opted in",
			"recipient_id", recipientID,
			"err", err,
		)
		return false
	}
	return p != nil && p.OptedOut
}

func (r *Resolver) SetOptOut(ctx context.Context, recipientID string, optedOut bool, reason string) (model.Preference, error) {
	p, err := r.prefs.UpsertPreference(ctx, recipientID, optedOut, reason)
	if err != nil {
		return model.Preference{}, fmt.Errorf("upsert preference for %s: %w", recipientID, err)
	}
	r.log.Info("preference updated",
		"recipient_id", recipientID,
		"opted_out", optedOut,
		"reason", reason,
	)
	return p, nil
}

// OptedOutSet loads every opted-out id. On failure it logs and returns an
// empty set.
func (r *Resolver) OptedOutSet(ctx context.Context) map[string]struct{} {
	ids, err := r.prefs.ListOptedOut(ctx)
	if err != nil {
		r.log.Warn("opt-out list lookup failed, assuming opted in", "err", err)
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// LookupByPhone matches a directory profile by its stored phone number.
func (r *Resolver) LookupByPhone(ctx context.Context, phone string) (*model.Recipient, error) {
	p, err := r.dir.FindProfileByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryQueryFailed, err)
	}
	if p == nil {
		return nil, nil
	}
	rec := model.RecipientFromProfile(*p)
	return &rec, nil
}
