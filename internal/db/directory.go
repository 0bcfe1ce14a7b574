package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const userColumns = `
	u.id, u.username, u.first_name, u.last_name, u.email,
	COALESCE(u.phone, ''), COALESCE(pt.gateway_domain, ''),
	COALESCE(u.push_endpoint, ''), COALESCE(u.discord_user_id, ''),
	u.is_superuser, u.is_active
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&u.Phone,
		&u.PhoneGateway,
		&u.PushEndpoint,
		&u.ChatPlatformID,
		&u.IsSuperuser,
		&u.Active,
	)
	return u, err
}

// UsersWithPermission resolves the active holders of a permission codename,
// granted either directly or through a group.
func (r *Repository) UsersWithPermission(ctx context.Context, codename string) ([]User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN phone_types pt ON pt.id = u.phone_type_id
		WHERE u.is_active = TRUE
		  AND (
			EXISTS (
				SELECT 1 FROM user_permissions up
				WHERE up.user_id = u.id AND up.codename = $1
			)
			OR EXISTS (
				SELECT 1 FROM user_groups ug
				JOIN group_permissions gp ON gp.group_id = ug.group_id
				WHERE ug.user_id = u.id AND gp.codename = $1
			)
		  )
		ORDER BY u.id
	`

	rows, err := r.db.Pool().Query(ctx, query, codename)
	if err != nil {
		return nil, fmt.Errorf("query users with permission: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// GetUser loads a user by id, active or not.
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN phone_types pt ON pt.id = u.phone_type_id
		WHERE u.id = $1
	`

	u, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// UserPermissions returns every codename a user holds directly or via groups.
func (r *Repository) UserPermissions(ctx context.Context, id int64) ([]string, error) {
	query := `
		SELECT codename FROM user_permissions WHERE user_id = $1
		UNION
		SELECT gp.codename FROM user_groups ug
		JOIN group_permissions gp ON gp.group_id = ug.group_id
		WHERE ug.user_id = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}

	return perms, rows.Err()
}
