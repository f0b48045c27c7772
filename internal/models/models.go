// Package models defines the JSON wire types shared by the API client
// and the development server.
package models

// LoginRequest is the body of the login call.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the token pair issued at sign-in.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest is the body of the refresh call.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse is the body of a successful refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// ErrorBody is the error shape the API returns with non-2xx statuses.
type ErrorBody struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// Profile is the signed-in user as returned by /api/me.
type Profile struct {
	Email string `json:"email"`
}
