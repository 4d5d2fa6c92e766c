package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ResourceTags returns the role-tag set for a resource path; an untagged
// resource yields an empty set.
func (s *Store) ResourceTags(ctx context.Context, accountUUID, resourcePath string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		select tags
		from resource_tags
		where account_uuid = $1 and resource_path = $2
	`, accountUUID, resourcePath).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := decodeStringList(raw, &tags); err != nil {
		return nil, fmt.Errorf("decode resource tags: %w", err)
	}
	return tags, nil
}

// SetResourceTags replaces the role-tag set for a resource path. An empty
// set removes the row.
func (s *Store) SetResourceTags(ctx context.Context, accountUUID, resourcePath string, tags []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if len(tags) == 0 {
		_, err := s.db.ExecContext(ctx, `
			delete from resource_tags
			where account_uuid = $1 and resource_path = $2
		`, accountUUID, resourcePath)
		return err
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal resource tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into resource_tags (account_uuid, resource_path, tags, updated_at)
		values ($1, $2, $3, now())
		on conflict (account_uuid, resource_path)
		do update set tags = excluded.tags, updated_at = now()
	`, accountUUID, resourcePath, raw)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("account %s not found", accountUUID)
	}
	return err
}
