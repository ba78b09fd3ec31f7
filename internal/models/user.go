package models

import (
	"time"
)

// Role values the backend assigns to users
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// User mirrors the backend user entity as returned by the auth and profile
// endpoints. The password never crosses the wire back to the client.
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Avatar      string    `json:"avatar,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	JoinDate    time.Time `json:"joinDate"`
	Role        string    `json:"role"`
	PostCount   int       `json:"postCount,omitempty"`
	ThreadCount int       `json:"threadCount,omitempty"`
	IsVerified  bool      `json:"isVerified,omitempty"`
}
