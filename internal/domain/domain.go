package domain

import (
	"time"

	"github.com/darkroomhq/darkroom-backend/internal/domain/jobs"
)

// Flat aliases so repos and services can import one types package.

type (
	Job        = jobs.Job
	ShopifyMap = jobs.ShopifyMap
	Metadata   = jobs.Metadata

	Status    = jobs.Status
	ErrorKind = jobs.ErrorKind
	ErrorInfo = jobs.ErrorInfo
	Timing    = jobs.Timing

	StageError         = jobs.StageError
	TransitionError    = jobs.TransitionError
	MissingFieldsError = jobs.MissingFieldsError
)

const (
	StatusNew             = jobs.StatusNew
	StatusBGRemoved       = jobs.StatusBGRemoved
	StatusBackgroundReady = jobs.StatusBackgroundReady
	StatusComposited      = jobs.StatusComposited
	StatusDerivatives     = jobs.StatusDerivatives
	StatusShopifyPush     = jobs.StatusShopifyPush
	StatusDone            = jobs.StatusDone
	StatusFailed          = jobs.StatusFailed
)

const (
	KindValidation       = jobs.KindValidation
	KindDownloadFailed   = jobs.KindDownloadFailed
	KindSegmentFailed    = jobs.KindSegmentFailed
	KindBackgroundFailed = jobs.KindBackgroundFailed
	KindCompositeFailed  = jobs.KindCompositeFailed
	KindDerivativeFailed = jobs.KindDerivativeFailed
	KindManifestFailed   = jobs.KindManifestFailed
	KindStorageFailed    = jobs.KindStorageFailed
	KindNetwork          = jobs.KindNetwork
	KindUnknown          = jobs.KindUnknown
)

func AllStatuses() []Status           { return jobs.AllStatuses() }
func KnownStatus(s Status) bool       { return jobs.KnownStatus(s) }
func KnownErrorKind(k ErrorKind) bool { return jobs.KnownErrorKind(k) }
func IsValidTransition(from, to Status) bool {
	return jobs.IsValidTransition(from, to)
}
func ValidateFields(j *Job, target Status) []string { return jobs.ValidateFields(j, target) }
func CanRetry(j *Job, maxRetries int) bool          { return jobs.CanRetry(j, maxRetries) }
func RetryDelay(attempt int, base time.Duration) time.Duration {
	return jobs.RetryDelay(attempt, base)
}
func Tag(kind ErrorKind, err error) error { return jobs.Tag(kind, err) }
func KindOf(err error) ErrorKind          { return jobs.KindOf(err) }
