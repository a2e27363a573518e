package repository

import "errors"

// ErrNotFound indicates an entity was not located. Tenant-scoped lookups
// return it for both missing rows and rows outside the caller's organization
// so cross-tenant probes cannot distinguish the two.
var ErrNotFound = errors.New("repository: not found")

// ErrInvalidArgument indicates the database rejected the written values.
var ErrInvalidArgument = errors.New("repository: invalid argument")
