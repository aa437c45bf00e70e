package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Status is the pipeline position of a job. Progression is strictly forward
// along the chain below; FAILED is reachable from every non-terminal state.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusBGRemoved       Status = "BG_REMOVED"
	StatusBackgroundReady Status = "BACKGROUND_READY"
	StatusComposited      Status = "COMPOSITED"
	StatusDerivatives     Status = "DERIVATIVES"
	StatusShopifyPush     Status = "SHOPIFY_PUSH"
	StatusDone            Status = "DONE"
	StatusFailed          Status = "FAILED"
)

var statusChain = map[Status]Status{
	StatusNew:             StatusBGRemoved,
	StatusBGRemoved:       StatusBackgroundReady,
	StatusBackgroundReady: StatusComposited,
	StatusComposited:      StatusDerivatives,
	StatusDerivatives:     StatusShopifyPush,
	StatusShopifyPush:     StatusDone,
}

func AllStatuses() []Status {
	return []Status{
		StatusNew, StatusBGRemoved, StatusBackgroundReady, StatusComposited,
		StatusDerivatives, StatusShopifyPush, StatusDone, StatusFailed,
	}
}

func KnownStatus(s Status) bool {
	switch s {
	case StatusNew, StatusBGRemoved, StatusBackgroundReady, StatusComposited,
		StatusDerivatives, StatusShopifyPush, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// IsValidTransition reports whether from → to is a legal forward move.
// Retry (FAILED → NEW) is intentionally not a transition; it is a reset
// handled by the store's Retry operation.
func IsValidTransition(from, to Status) bool {
	if !KnownStatus(from) || !KnownStatus(to) {
		return false
	}
	if to == StatusFailed {
		return !from.Terminal()
	}
	return statusChain[from] == to
}

// ValidateFields lists the fields that must be populated before a job may
// enter target. Empty result means the entry requirements hold.
func ValidateFields(j *Job, target Status) []string {
	var missing []string
	if j == nil {
		return []string{"job"}
	}
	switch target {
	case StatusBGRemoved:
		if j.CutoutKey == "" {
			missing = append(missing, "cutout_key")
		}
		if j.MaskKey == "" {
			missing = append(missing, "mask_key")
		}
	case StatusBackgroundReady:
		if len(j.BackgroundKeys) == 0 {
			missing = append(missing, "background_keys")
		}
	case StatusComposited:
		if len(j.CompositeKeys) == 0 {
			missing = append(missing, "composite_keys")
		} else if len(j.CompositeKeys) != len(j.BackgroundKeys) {
			missing = append(missing, "composite_keys(len)")
		}
	case StatusDerivatives:
		if len(j.DerivativeKeys) == 0 {
			missing = append(missing, "derivative_keys")
		}
	case StatusShopifyPush:
		if j.ManifestKey == "" {
			missing = append(missing, "manifest_key")
		}
	case StatusFailed:
		if j.ErrorCode == "" {
			missing = append(missing, "error_code")
		}
	}
	return missing
}

// TransitionError rejects a move the state machine does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// MissingFieldsError rejects a transition whose entry requirements are
// not met by the persisted row.
type MissingFieldsError struct {
	Target Status
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("transition to %s missing required fields: %s", e.Target, strings.Join(e.Fields, ", "))
}

// CanRetry reports whether a retry policy may re-enqueue the job. The admin
// retry endpoint only requires status FAILED; the attempt bound applies to
// automated policies.
func CanRetry(j *Job, maxRetries int) bool {
	return j != nil && j.Status == StatusFailed && j.Attempt < maxRetries
}

// RetryDelay is the exponential backoff before attempt n may run again.
func RetryDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 60 * time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(int64(1)<<uint(attempt))
}
