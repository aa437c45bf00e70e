package jobs

import (
	"context"
	"errors"
	"net"
)

// ErrorKind is the stable failure code written to FAILED jobs. Downstream
// consumers branch on these instead of parsing messages.
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION"
	KindDownloadFailed   ErrorKind = "DOWNLOAD_FAILED"
	KindSegmentFailed    ErrorKind = "SEGMENT_FAILED"
	KindBackgroundFailed ErrorKind = "BACKGROUND_FAILED"
	KindCompositeFailed  ErrorKind = "COMPOSITE_FAILED"
	KindDerivativeFailed ErrorKind = "DERIVATIVE_FAILED"
	KindManifestFailed   ErrorKind = "MANIFEST_FAILED"
	KindStorageFailed    ErrorKind = "STORAGE_FAILED"
	KindNetwork          ErrorKind = "NETWORK"
	KindUnknown          ErrorKind = "UNKNOWN"
)

func KnownErrorKind(k ErrorKind) bool {
	switch k {
	case KindValidation, KindDownloadFailed, KindSegmentFailed, KindBackgroundFailed,
		KindCompositeFailed, KindDerivativeFailed, KindManifestFailed,
		KindStorageFailed, KindNetwork, KindUnknown:
		return true
	default:
		return false
	}
}

// StageError tags a failure with its ErrorKind so the worker boundary can
// convert it into a FAILED row without inspecting messages.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *StageError) Unwrap() error { return e.Err }

// Tag wraps err with kind. Tagging nil returns nil so call sites can tag
// unconditionally on their return path.
func Tag(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from an error chain. Untagged network-ish
// failures classify as NETWORK, everything else as UNKNOWN.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}
