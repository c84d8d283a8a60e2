package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JimiYounger/connect-sub001/internal/model"
)

// PostgresDirectory reads the profiles table. It never writes.
type PostgresDirectory struct {
	db *sql.DB
}

var _ Directory = (*PostgresDirectory)(nil)

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const profileColumns = `id, first_name, last_name, email, phone, role_type, team, area, region`

func (d *PostgresDirectory) FindProfiles(ctx context.Context, q DirectoryQuery) ([]model.Profile, int, error) {
	where, args := buildProfileWhere(q)

	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	stmt := `SELECT ` + profileColumns + ` FROM profiles` + where + ` ORDER BY last_name, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		stmt += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// buildProfileWhere turns the query into a WHERE clause. Each non-empty filter
// set becomes "column = ANY(values)".
func buildProfileWhere(q DirectoryQuery) (string, []any) {
	f := q.Filter.Normalized()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.RequirePhone {
		conds = append(conds, "phone IS NOT NULL AND btrim(phone) <> ''")
	}
	for _, c := range []struct {
		column string
		values []string
	}{
		{"role_type", f.RoleTypes},
		{"team", f.Teams},
		{"area", f.Areas},
		{"region", f.Regions},
	} {
		if len(c.values) > 0 {
			add(c.column+" = ANY($%d)", c.values)
		}
	}
	if len(q.ExcludeIDs) > 0 {
		add("NOT (id = ANY($%d))", q.ExcludeIDs)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (d *PostgresDirectory) FindProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	return d.findOne(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
}

func (d *PostgresDirectory) FindProfileByPhone(ctx context.Context, phone string) (*model.Profile, error) {
	return d.findOne(ctx, `SELECT `+profileColumns+` FROM profiles WHERE phone = $1 ORDER BY id LIMIT 1`, phone)
}

func (d *PostgresDirectory) findOne(ctx context.Context, q string, arg string) (*model.Profile, error) {
	p, err := scanProfile(d.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProfile(s scanner) (model.Profile, error) {
	var p model.Profile
	var phone, role, team, area, region sql.NullString
	if err := s.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &phone, &role, &team, &area, &region); err != nil {
		return model.Profile{}, err
	}
	p.Phone = fromNull(phone)
	p.RoleType = fromNull(role)
	p.Team = fromNull(team)
	p.Area = fromNull(area)
	p.Region = fromNull(region)
	return p, nil
}
