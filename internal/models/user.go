package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleCivilian  UserRole = "civilian"
	RoleVolunteer UserRole = "volunteer"
	RoleAdmin     UserRole = "admin"
)

// User represents an application user stored in the users table.
// Registration and credential handling are thin; the dispatch core only
// ever reads id, role and name.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         UserRole  `db:"role" json:"role"`
	Longitude    *float64  `db:"longitude" json:"longitude,omitempty"`
	Latitude     *float64  `db:"latitude" json:"latitude,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserInfo is the public projection returned by auth endpoints.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}
