package rbac

import (
	"context"
	"fmt"
	"strings"

	"cloudgate.io/internal/identity"
)

// ValidateTags checks that every role name in the tag set exists on the
// account. Unknown names produce an InvalidArgument error listing them, so a
// tag write can be rejected with 409 before it lands in the directory.
func (r *Resolver) ValidateTags(ctx context.Context, accountUUID string, tags []string) error {
	var missing []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, err := r.dir.RoleByName(ctx, accountUUID, tag); err != nil {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return identity.InvalidArgumentError(
			fmt.Sprintf("Role(s) %s not found", strings.Join(missing, ", ")))
	}
	return nil
}

// SetTags validates and writes the role-tag set for a resource, returning
// the stored tags.
func (r *Resolver) SetTags(ctx context.Context, accountUUID, resourcePath string, tags []string) ([]string, error) {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	if err := r.ValidateTags(ctx, accountUUID, cleaned); err != nil {
		return nil, err
	}
	if err := r.dir.SetResourceTags(ctx, accountUUID, resourcePath, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// Tags reads the current role-tag set for a resource.
func (r *Resolver) Tags(ctx context.Context, accountUUID, resourcePath string) ([]string, error) {
	return r.dir.ResourceTags(ctx, accountUUID, resourcePath)
}
