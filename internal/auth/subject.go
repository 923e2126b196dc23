package auth

import "context"

// SubjectKind discriminates the caller identity attached to a request.
type SubjectKind int

const (
	SubjectAnonymous SubjectKind = iota
	SubjectUser
	SubjectService
)

// Subject is the resolved caller identity for one request. Exactly one of
// the three kinds applies; UserID and Roles are meaningful only for
// SubjectUser.
type Subject struct {
	Kind     SubjectKind
	UserID   int64
	Username string
	Roles    []string
}

// ServiceSubject identifies a trusted service-to-service caller. Service
// callers act with full administrative authority.
func ServiceSubject() Subject {
	return Subject{Kind: SubjectService, Roles: []string{"administrator"}}
}

func UserSubject(id int64, username string, roles []string) Subject {
	return Subject{Kind: SubjectUser, UserID: id, Username: username, Roles: roles}
}

func AnonymousSubject() Subject {
	return Subject{Kind: SubjectAnonymous}
}

func (s Subject) IsService() bool   { return s.Kind == SubjectService }
func (s Subject) IsUser() bool      { return s.Kind == SubjectUser }
func (s Subject) IsAnonymous() bool { return s.Kind == SubjectAnonymous }

// HasRole reports whether the subject carries the named role. Service
// subjects carry the administrator role implicitly.
func (s Subject) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type subjectContextKey struct{}

// ContextWithSubject attaches the resolved caller identity to ctx.
func ContextWithSubject(ctx context.Context, s Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, s)
}

// SubjectFromContext returns the caller identity attached by the
// authentication middleware, or an anonymous subject when none is set.
func SubjectFromContext(ctx context.Context) Subject {
	if s, ok := ctx.Value(subjectContextKey{}).(Subject); ok {
		return s
	}
	return AnonymousSubject()
}
