package models

// TokenKind tells access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenPair is always issued as a whole: both tokens carry the same subject.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session is the result of a successful login.
type Session struct {
	User PublicUser `json:"user"`
	TokenPair
}
