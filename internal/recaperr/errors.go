// Package recaperr defines the classified failures a recap render can end in.
// Every error leaving the pipeline is exactly one *Error carrying a stable,
// user-facing message; raw causes stay reachable through Unwrap for logging.
package recaperr

import (
	"errors"
	"fmt"
)

// Kind identifies one entry of the failure taxonomy.
type Kind string

const (
	// KindValidation covers bad input: image count out of range or invalid settings.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindUnsupportedRuntime means the encoding primitives are absent.
	KindUnsupportedRuntime Kind = "UNSUPPORTED_RUNTIME"
	// KindResourceAllocation means the output surface could not be created.
	KindResourceAllocation Kind = "RESOURCE_ALLOCATION_FAILED"
	// KindEncoderInit means no codec/container combination could be opened.
	KindEncoderInit Kind = "ENCODER_INIT_FAILED"
	// KindImageLoad means one image could not be fetched or decoded.
	KindImageLoad Kind = "IMAGE_LOAD_FAILED"
	// KindEmptyOutput means the encoder session accumulated zero bytes.
	KindEmptyOutput Kind = "EMPTY_OUTPUT"
	// KindCorruptOutput means the final concatenated buffer is empty.
	KindCorruptOutput Kind = "CORRUPT_OUTPUT"
	// KindMemoryPressure is an encoder failure caused by memory or quota exhaustion.
	KindMemoryPressure Kind = "MEMORY_PRESSURE"
	// KindTimeout means the global wall-clock ceiling was exceeded.
	KindTimeout Kind = "TIMEOUT"
	// KindEncoding is any other encoder runtime failure.
	KindEncoding Kind = "ENCODING_FAILED"
	// KindCancelled means the caller aborted the render.
	KindCancelled Kind = "CANCELLED"
)

// Error is a classified recap failure.
type Error struct {
	// Kind is the taxonomy entry.
	Kind Kind
	// Index is the 1-based position of the failing image (KindImageLoad only).
	Index int
	// Detail selects a message variant within a kind (validation only).
	Detail Detail
	// Err is the underlying cause, if any.
	Err error
}

// Detail narrows the message of a validation failure.
type Detail string

const (
	DetailNone          Detail = ""
	DetailNoImages      Detail = "no_images"
	DetailTooManyImages Detail = "too_many_images"
	DetailSettings      Detail = "settings"
	DetailInvalidPhotos Detail = "invalid_photos"
)

// Error returns the English user-facing message.
func (e *Error) Error() string {
	return e.Message()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the stable machine-readable code for API responses.
func (e *Error) Code() string {
	return string(e.Kind)
}

// Is reports whether target is an *Error of the same kind. It lets callers
// write errors.Is(err, recaperr.ErrTimeout).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Detail == DetailNone || t.Detail == e.Detail)
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnsupportedRuntime = &Error{Kind: KindUnsupportedRuntime}
	ErrResourceAllocation = &Error{Kind: KindResourceAllocation}
	ErrEncoderInit        = &Error{Kind: KindEncoderInit}
	ErrImageLoad          = &Error{Kind: KindImageLoad}
	ErrEmptyOutput        = &Error{Kind: KindEmptyOutput}
	ErrCorruptOutput      = &Error{Kind: KindCorruptOutput}
	ErrMemoryPressure     = &Error{Kind: KindMemoryPressure}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrEncoding           = &Error{Kind: KindEncoding}
	ErrCancelled          = &Error{Kind: KindCancelled}
)

// New returns a classified error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// NoImages is the validation failure for an empty photo list.
func NoImages() *Error {
	return &Error{Kind: KindValidation, Detail: DetailNoImages}
}

// TooManyImages is the validation failure for more than the allowed photos.
func TooManyImages(count int) *Error {
	return &Error{Kind: KindValidation, Detail: DetailTooManyImages, Err: fmt.Errorf("got %d images", count)}
}

// InvalidSettings is the validation failure for out-of-range render settings.
func InvalidSettings(cause error) *Error {
	return &Error{Kind: KindValidation, Detail: DetailSettings, Err: cause}
}

// InvalidPhotos is the validation failure for photo references the caller may
// not use.
func InvalidPhotos(cause error) *Error {
	return &Error{Kind: KindValidation, Detail: DetailInvalidPhotos, Err: cause}
}

// ImageLoad reports that the image at 1-based position failed to load.
func ImageLoad(position int, cause error) *Error {
	return &Error{Kind: KindImageLoad, Index: position, Err: cause}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error, or "" when err is not one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
