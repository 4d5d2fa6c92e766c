package identity

import "context"

// Directory is the authoritative source of accounts, sub-users, keys, roles,
// policies and resource role-tags. It is not assumed to be strongly
// consistent with the replicated authorization cache.
type Directory interface {
	AccountByLogin(ctx context.Context, login string) (Account, error)
	AccountByUUID(ctx context.Context, uuid string) (Account, error)

	UserByLogin(ctx context.Context, accountUUID, login string) (User, error)
	UsersForAccount(ctx context.Context, accountUUID string) ([]User, error)

	KeysForOwner(ctx context.Context, ownerUUID string) ([]Key, error)

	RolesForAccount(ctx context.Context, accountUUID string) ([]Role, error)
	RoleByName(ctx context.Context, accountUUID, name string) (Role, error)
	PoliciesByUUIDs(ctx context.Context, uuids []string) ([]Policy, error)

	ResourceTags(ctx context.Context, accountUUID, resourcePath string) ([]string, error)
	SetResourceTags(ctx context.Context, accountUUID, resourcePath string, tags []string) error
}
