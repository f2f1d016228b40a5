package model

// Credential holds the OAuth2 client identity and the current token pair.
// AuthorityID identifies which authorization the refresh token belongs to.
type Credential struct {
	ClientID     string
	ClientSecret string
	AuthorityID  string
	RefreshToken string
	AccessToken  string
}

// TokenState is the refresh token carried from one run to the next.
type TokenState struct {
	AuthID       string `json:"auth_id"`
	RefreshToken string `json:"#refresh_token"`
}

// IsZero reports whether no refresh token has been persisted yet.
func (s TokenState) IsZero() bool {
	return s.AuthID == "" && s.RefreshToken == ""
}
