package grpc

import "encoding/json"

type RequestEmailVerificationRequest struct {
	Email string `json:"email"`
}

type RequestEmailVerificationResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type VerifyEmailResponse struct {
	Email string `json:"email"`
}

type RegisterRequest struct {
	Login      string `json:"login"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	EmailToken string `json:"email_token"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Credentials is the triple a client stores after login or refresh.
type Credentials struct {
	UserID           string `json:"user_id"`
	AccessToken      string `json:"access_token"`
	AccessExpiresIn  int64  `json:"access_expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	SessionID        string `json:"session_id"`
}

// RefreshRequest may carry the expired access token; its subject has to
// match the session.
type RefreshRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
}

type LogoutRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	AllSessions bool   `json:"all_sessions,omitempty"`
}

type LogoutResponse struct {
	Sessions int `json:"sessions"`
}

type IntrospectRequest struct{}

type IntrospectResponse struct {
	Subject   string `json:"sub"`
	KeyID     string `json:"kid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type JWKSRequest struct{}

type JWKSResponse struct {
	Keys json.RawMessage `json:"jwks"`
}
