package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloudgate.io/internal/identity"
)

var _ identity.Directory = (*Store)(nil)

func (s *Store) AccountByLogin(ctx context.Context, login string) (identity.Account, error) {
	return s.account(ctx, "login = $1", strings.TrimSpace(login))
}

func (s *Store) AccountByUUID(ctx context.Context, uuid string) (identity.Account, error) {
	return s.account(ctx, "uuid = $1", strings.TrimSpace(uuid))
}

func (s *Store) account(ctx context.Context, where string, arg string) (identity.Account, error) {
	if s.db == nil {
		return identity.Account{}, errors.New("database connection unavailable")
	}
	var a identity.Account
	err := s.db.QueryRowContext(ctx, `
		select uuid, login, email, password_hash, disabled, created_at, updated_at
		from accounts
		where `+where, arg,
	).Scan(&a.UUID, &a.Login, &a.Email, &a.PasswordHash, &a.Disabled, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Account{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Account{}, err
	}
	return a, nil
}

func (s *Store) UserByLogin(ctx context.Context, accountUUID, login string) (identity.User, error) {
	if s.db == nil {
		return identity.User{}, errors.New("database connection unavailable")
	}
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select uuid, account_uuid, login, email, password_hash, disabled, created_at, updated_at
		from users
		where account_uuid = $1 and login = $2
	`, accountUUID, strings.TrimSpace(login)).
		Scan(&u.UUID, &u.AccountUUID, &u.Login, &u.Email, &u.PasswordHash, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *Store) UsersForAccount(ctx context.Context, accountUUID string) ([]identity.User, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select uuid, account_uuid, login, email, password_hash, disabled, created_at, updated_at
		from users
		where account_uuid = $1
		order by login
	`, accountUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.UUID, &u.AccountUUID, &u.Login, &u.Email, &u.PasswordHash, &u.Disabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) KeysForOwner(ctx context.Context, ownerUUID string) ([]identity.Key, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select key_id, name, owner_uuid, public_pem, created_at
		from keys
		where owner_uuid = $1
		order by name
	`, ownerUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Key
	for rows.Next() {
		var k identity.Key
		if err := rows.Scan(&k.KeyID, &k.Name, &k.OwnerUUID, &k.PublicPEM, &k.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RolesForAccount(ctx context.Context, accountUUID string) ([]identity.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select uuid, account_uuid, name, members, default_members, policies, created_at, updated_at
		from roles
		where account_uuid = $1
		order by name
	`, accountUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RoleByName(ctx context.Context, accountUUID, name string) (identity.Role, error) {
	if s.db == nil {
		return identity.Role{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		select uuid, account_uuid, name, members, default_members, policies, created_at, updated_at
		from roles
		where account_uuid = $1 and lower(name) = lower($2)
	`, accountUUID, strings.TrimSpace(name))
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Role{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Role{}, err
	}
	return role, nil
}

func (s *Store) PoliciesByUUIDs(ctx context.Context, uuids []string) ([]identity.Policy, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	if len(uuids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(uuids))
	args := make([]any, len(uuids))
	for i, u := range uuids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = u
	}
	rows, err := s.db.QueryContext(ctx, `
		select uuid, account_uuid, name, rules, created_at, updated_at
		from policies
		where uuid in (`+strings.Join(placeholders, ", ")+`)
		order by name
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []identity.Policy
	for rows.Next() {
		var (
			p        identity.Policy
			rawRules []byte
		)
		if err := rows.Scan(&p.UUID, &p.AccountUUID, &p.Name, &rawRules, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := decodeStringList(rawRules, &p.Rules); err != nil {
			return nil, fmt.Errorf("decode policy rules: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (identity.Role, error) {
	var (
		role        identity.Role
		rawMembers  []byte
		rawDefaults []byte
		rawPolicies []byte
	)
	if err := row.Scan(&role.UUID, &role.AccountUUID, &role.Name, &rawMembers, &rawDefaults, &rawPolicies, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return identity.Role{}, err
	}
	if err := decodeStringList(rawMembers, &role.Members); err != nil {
		return identity.Role{}, fmt.Errorf("decode role members: %w", err)
	}
	if err := decodeStringList(rawDefaults, &role.DefaultMembers); err != nil {
		return identity.Role{}, fmt.Errorf("decode role default members: %w", err)
	}
	if err := decodeStringList(rawPolicies, &role.Policies); err != nil {
		return identity.Role{}, fmt.Errorf("decode role policies: %w", err)
	}
	return role, nil
}

func decodeStringList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}
