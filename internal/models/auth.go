package models

// AuthResponse is the envelope the backend returns from login, register and
// refresh-token. RefreshToken and User may be absent on refresh responses
// that rotate nothing.
type AuthResponse struct {
	Message              string `json:"message,omitempty"`
	Token                string `json:"token"`
	RefreshToken         string `json:"refreshToken,omitempty"`
	User                 *User  `json:"user,omitempty"`
	RequiresVerification bool   `json:"requiresVerification,omitempty"`
}
