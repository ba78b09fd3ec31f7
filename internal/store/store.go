// Package store persists the client's session state in a local key-value
// medium, split over two durability tiers: a durable tier that survives
// process restarts and a session tier that is gone when the process exits.
// Which tier holds the credentials is decided by the remember-me flag chosen
// at login time.
package store

// Storage keys. They are shared with the web frontend, which keeps the same
// names in localStorage, so a developer inspecting either client sees the
// same layout.
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyCurrentUser  = "current_user"
	KeyRememberMe   = "remember_me"
)

// Tier is one durability level of session storage. Reads treat backend
// failures as absence: the session layer recovers from a missing token the
// same way regardless of why it is missing.
type Tier interface {
	// Get returns the stored value and whether the key was present
	Get(key string) (string, bool)

	// Set stores the value, overwriting any previous one
	Set(key string, value string) error

	// Remove deletes the key. Removing an absent key is not an error
	Remove(key string) error
}
