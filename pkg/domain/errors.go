package domain

import (
	"errors"
	"fmt"
)

// CapabilityError is returned when a typed-relation write or merge targets a
// group whose capability set excludes the member's kind. No partial writes
// occur when it is raised.
type CapabilityError struct {
	Member EntityRef
	Group  EntityRef
}

func (e CapabilityError) Error() string {
	return fmt.Sprintf("group kind %q does not accept members of kind %q", e.Group.Kind, e.Member.Kind)
}

// IsCapabilityError reports whether err carries a capability mismatch.
func IsCapabilityError(err error) bool {
	var ce CapabilityError
	return errors.As(err, &ce)
}

// ErrInvalidQueryComposition is returned when a query combinator is composed
// with a query that was not derived from the membership registry. It is
// raised before any predicate executes.
var ErrInvalidQueryComposition = errors.New("query does not derive from the membership registry")

// NotFoundError is returned by write operations that require a persisted
// entity. Read and query operations never return it; absent entities yield
// empty results instead.
type NotFoundError struct {
	Ref EntityRef
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.Ref)
}

// RuleViolationError is returned when a transaction is blocked by rules.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
