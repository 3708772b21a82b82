package common

// gRPC metadata keys. Inbound requests carry the access token and, for
// guarded calls, optionally the refresh pair; rotated credentials are sent
// back as response headers under the same keys.
const (
	AccessTokenHeaderName  = "access_token"
	RefreshTokenHeaderName = "refresh_token"
	SessionIDHeaderName    = "session_id"
)
