package auth

import (
	"context"

	"github.com/mosacloud/drive/internal/drive"
)

// PrincipalLookup answers CurrentUser from a verified token when the
// token names the drive user, and defers to the wrapped lookup
// otherwise.
type PrincipalLookup struct {
	drive.Lookup
}

// CurrentUser implements drive.Lookup.
func (l PrincipalLookup) CurrentUser(ctx context.Context) (*drive.User, error) {
	if p := GetPrincipal(ctx); p != nil && p.UserID != "" {
		return &drive.User{ID: p.UserID, Email: p.Email}, nil
	}
	return l.Lookup.CurrentUser(ctx)
}

// Forget passes through to the wrapped lookup when it caches records.
func (l PrincipalLookup) Forget(id string) {
	if f, ok := l.Lookup.(interface{ Forget(id string) }); ok {
		f.Forget(id)
	}
}
