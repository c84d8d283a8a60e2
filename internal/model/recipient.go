package model

import "strings"

// Profile is a raw directory row.
type Profile struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     *string
	RoleType  *string
	Team      *string
	Area      *string
	Region    *string
}

type Recipient struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
	RoleType  *string `json:"roleType,omitempty"`
	Team      *string `json:"team,omitempty"`
	Area      *string `json:"area,omitempty"`
	Region    *string `json:"region,omitempty"`
}

func (r Recipient) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

func (r Recipient) HasPhone() bool {
	return r.Phone != nil && strings.TrimSpace(*r.Phone) != ""
}

// RecipientFromProfile normalizes a directory row. Blank optional values
// become nil so "absent" is distinguishable downstream.
func RecipientFromProfile(p Profile) Recipient {
	return Recipient{
		ID:        p.ID,
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Email:     strings.TrimSpace(p.Email),
		Phone:     nonBlank(p.Phone),
		RoleType:  nonBlank(p.RoleType),
		Team:      nonBlank(p.Team),
		Area:      nonBlank(p.Area),
		Region:    nonBlank(p.Region),
	}
}

func nonBlank(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// OrganizationFilter holds equality predicates over organizational
// attributes. Several values for one attribute match any of them.
type OrganizationFilter struct {
	RoleTypes []string `json:"roleTypes,omitempty"`
	Teams     []string `json:"teams,omitempty"`
	Areas     []string `json:"areas,omitempty"`
	Regions   []string `json:"regions,omitempty"`
}

func (f OrganizationFilter) IsEmpty() bool {
	return len(compact(f.RoleTypes)) == 0 &&
		len(compact(f.Teams)) == 0 &&
		len(compact(f.Areas)) == 0 &&
		len(compact(f.Regions)) == 0
}

// Normalized drops blank values and duplicates.
func (f OrganizationFilter) Normalized() OrganizationFilter {
	return OrganizationFilter{
		RoleTypes: compact(f.RoleTypes),
		Teams:     compact(f.Teams),
		Areas:     compact(f.Areas),
		Regions:   compact(f.Regions),
	}
}

func compact(vals []string) []string {
	if len(vals) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(vals))
	var out []string
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
