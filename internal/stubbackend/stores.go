package stubbackend

import "context"

// Champion is a registered backend account.
type Champion struct {
	ID          int64
	Email       string
	DisplayName string
	// AvatarPNG is an uploaded avatar; nil means the default avatar applies.
	AvatarPNG []byte
}

// ChampionDirectory authenticates and looks up champions.
type ChampionDirectory interface {
	Authenticate(ctx context.Context, email string, password string) (Champion, error)
	Lookup(ctx context.Context, championID int64) (Champion, error)
}

// RefreshTokenStore manages long-lived refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, championID int64, expiresUnix int64, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (championID int64, tokenID string, expiresUnix int64, err error)
	Revoke(ctx context.Context, tokenID string) error
}
