package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims carries the authenticated identity through requests.
type JWTClaims struct {
	UserID string   `json:"uid"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// RegisterRequest is the payload for account creation.
type RegisterRequest struct {
	FullName  string   `json:"full_name" validate:"required,min=2"`
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=8"`
	Role      UserRole `json:"role" validate:"omitempty,oneof=civilian volunteer admin"`
	Longitude *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
}

// LoginRequest is the payload for credential authentication.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned from register and login.
type AuthResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	User        UserInfo  `json:"user"`
}
