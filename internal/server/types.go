// Package server provides the HTTP API for photo recaps: handlers,
// middleware, routes, and DTOs kept separate from domain types.
package server

import "time"

// CreateRecapRequest is the HTTP request body for creating a recap. Image
// count and render settings are checked by the render pipeline so that
// clients get its stable messages.
type CreateRecapRequest struct {
	// Photos are http(s) image URLs or base64 data URIs in display order.
	Photos []string `json:"photos" validate:"dive,required,photo_ref"`
	// DurationMs is how long each photo is shown.
	DurationMs int `json:"duration_ms" validate:"min=0"`
	// Width is the output width in pixels.
	Width int `json:"width" validate:"min=0"`
	// Height is the output height in pixels.
	Height int `json:"height" validate:"min=0"`
	// FPS is the output frame rate.
	FPS int `json:"fps" validate:"min=0"`
	// FadeIn is the fade-in fraction of each photo's frames.
	FadeIn *float64 `json:"fade_in,omitempty"`
	// FadeOut is the fade-out fraction of each photo's frames.
	FadeOut *float64 `json:"fade_out,omitempty"`
	// MusicURL overrides the default background music.
	MusicURL string `json:"music_url,omitempty" validate:"omitempty,max=2048,http_url"`
	// Silent disables background music.
	Silent bool `json:"silent"`
	// FamilyID publishes the finished recap for this family.
	FamilyID string `json:"family_id,omitempty" validate:"omitempty,max=128,excludesall=/\\"`
}

// CreateRecapResponse is the HTTP response after creating a recap.
type CreateRecapResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RecapResponse is the HTTP response for getting recap details.
type RecapResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	// Error is set when the recap did not complete.
	Error *RecapError `json:"error,omitempty"`
	// MimeType, DurationMs and SizeBytes describe the finished video.
	MimeType   string `json:"mime_type,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	SizeBytes  int    `json:"size_bytes,omitempty"`
	// VideoURL is the published URL of the video.
	VideoURL string `json:"video_url,omitempty"`
	// VideoBase64 carries the video inline when it was not published.
	VideoBase64 string    `json:"video_base64,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RecapError is a classified render failure.
type RecapError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Index is the 1-based photo that failed to load.
	Index int `json:"index,omitempty"`
}

// RecapListResponse lists recaps, oldest first.
type RecapListResponse struct {
	Recaps []RecapSummary `json:"recaps"`
}

// RecapSummary is one entry of RecapListResponse.
type RecapSummary struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Images    int       `json:"images"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	// Container is the negotiated output container.
	Container string `json:"container,omitempty"`
}
