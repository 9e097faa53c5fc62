package model

import "github.com/golang-jwt/jwt/v5"

// UserClaims are JWT claims for a guest identity.
type UserClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RaceClaims are room-scoped claims issued on race join.
type RaceClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	jwt.RegisteredClaims
}

// GuestRequest is the request body for guest identity creation.
type GuestRequest struct {
	Username string `json:"username"`
}

// GuestResponse is returned after a guest identity is issued.
type GuestResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}
