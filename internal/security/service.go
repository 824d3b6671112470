package security

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
)

// ErrorKind distinguishes security failures.
type ErrorKind int

const (
	KindNotAuthorized ErrorKind = iota + 1
	KindNotFound
	KindOperationNotAllowed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotAuthorized:
		return "not_authorized"
	case KindNotFound:
		return "not_found"
	case KindOperationNotAllowed:
		return "operation_not_allowed"
	}
	return "unknown"
}

// ServiceError is returned by security checks.
type ServiceError struct {
	Kind      ErrorKind
	ClassName string
	Operation Operation
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("security: %s %s on %s", e.Kind, e.Operation, e.ClassName)
}

// IsKind reports whether err is a *ServiceError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == k
}

type userKey struct{}

// WithUser attaches the user to ctx and makes it the audit actor.
func WithUser(ctx context.Context, u *AdminUser) context.Context {
	ctx = context.WithValue(ctx, userKey{}, u)
	if u != nil {
		ctx = persistence.WithActor(ctx, u.ID)
	}
	return ctx
}

func UserFrom(ctx context.Context) (*AdminUser, bool) {
	u, ok := ctx.Value(userKey{}).(*AdminUser)
	return u, ok && u != nil
}

// RemoteSecurityService checks class-level permissions.
type RemoteSecurityService struct {
	policy   *Policy
	registry *metadata.Registry
	lggr     logger.Logger
}

func NewRemoteSecurityService(policy *Policy, registry *metadata.Registry, lggr logger.Logger) *RemoteSecurityService {
	return &RemoteSecurityService{policy: policy, registry: registry, lggr: lggr.Named("security")}
}

func (s *RemoteSecurityService) CurrentUser(ctx context.Context) (*AdminUser, bool) {
	return UserFrom(ctx)
}

// SecurityCheck returns nil when the current user may run op on className.
// Classes no permission names are open to every signed-in user.
func (s *RemoteSecurityService) SecurityCheck(ctx context.Context, className string, op Operation) error {
	deny := func(k ErrorKind) error {
		s.lggr.Debugw("security check failed", "class", className, "op", op, "kind", k)
		return &ServiceError{Kind: k, ClassName: className, Operation: op}
	}
	u, ok := UserFrom(ctx)
	if !ok {
		return deny(KindNotAuthorized)
	}
	if _, err := s.registry.ClassMetadata(className); err != nil {
		return deny(KindNotFound)
	}
	if u.hasAnyRole(s.policy.SuperRoles) {
		return nil
	}
	guarded := false
	for _, p := range s.policy.Permissions {
		if !s.registry.IsA(className, p.Class) {
			continue
		}
		guarded = true
		if slices.Contains(p.Ops, op) && u.hasAnyRole(p.Roles) {
			return nil
		}
	}
	if guarded {
		return deny(KindOperationNotAllowed)
	}
	return nil
}

// RowLevelSecurityService decides per record.
type RowLevelSecurityService struct {
	policy   *Policy
	registry *metadata.Registry
	lggr     logger.Logger
}

func NewRowLevelSecurityService(policy *Policy, registry *metadata.Registry, lggr logger.Logger) *RowLevelSecurityService {
	return &RowLevelSecurityService{policy: policy, registry: registry, lggr: lggr.Named("rowlevel")}
}

// CanAdd applies the record-independent rules for className.
func (s *RowLevelSecurityService) CanAdd(_ context.Context, u *AdminUser, className string) bool {
	return s.allowed(u, className, OpAdd, nil)
}

func (s *RowLevelSecurityService) CanUpdate(_ context.Context, u *AdminUser, ent *persistence.Entity) bool {
	return s.allowed(u, ent.ClassName(), OpUpdate, ent)
}

func (s *RowLevelSecurityService) CanRemove(_ context.Context, u *AdminUser, ent *persistence.Entity) bool {
	return s.allowed(u, ent.ClassName(), OpRemove, ent)
}

func (s *RowLevelSecurityService) allowed(u *AdminUser, className string, op Operation, ent *persistence.Entity) bool {
	if u.hasAnyRole(s.policy.SuperRoles) {
		return true
	}
	for _, r := range s.policy.RowRules {
		if !slices.Contains(r.Ops, op) || !s.registry.IsA(className, r.Class) || u.hasAnyRole(r.Exempt) {
			continue
		}
		if r.Field != "" {
			if ent == nil || ent.Value(r.Field) != r.Value {
				continue
			}
		}
		s.lggr.Debugw("row rule denied", "class", className, "op", op, "field", r.Field)
		return false
	}
	return true
}
