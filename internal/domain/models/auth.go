package models

// UnauthorizedToken is sent in the handshake when no credentials are available.
const UnauthorizedToken = "unauthorized_user_token"

type Auth struct {
	Token   string `json:"auth_token"`
	IsPro   bool   `json:"is_pro"`
	ProPlan string `json:"pro_plan"`
}

// WireToken returns the token for set_auth_token.
func (a *Auth) WireToken() string {
	if a == nil || a.Token == "" {
		return UnauthorizedToken
	}
	return a.Token
}
