// Package realtime fans job lifecycle events out to connected SSE
// consumers. Events originate in the processor, optionally cross a
// Redis bus, and land on every subscribed client.
package realtime

import (
	types "github.com/darkroomhq/darkroom-backend/internal/domain"
)

type SSEEvent string

const (
	SSEEventJobCreated  SSEEvent = "JobCreated"
	SSEEventJobProgress SSEEvent = "JobProgress"
	SSEEventJobDone     SSEEvent = "JobDone"
	SSEEventJobFailed   SSEEvent = "JobFailed"
	SSEEventJobRetried  SSEEvent = "JobRetried"
)

// ChannelJobs is the single broadcast channel for job transitions.
// Per-sku channels can be added later without changing the message shape.
const ChannelJobs = "jobs"

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

// JobEventData is the payload attached to every job event.
type JobEventData struct {
	JobID       string           `json:"job_id"`
	SKU         string           `json:"sku"`
	Theme       string           `json:"theme"`
	Status      types.Status     `json:"status"`
	Attempt     int              `json:"attempt"`
	ManifestKey string           `json:"manifest_key,omitempty"`
	Error       *types.ErrorInfo `json:"error,omitempty"`
}

// JobMessage builds the broadcast message for one job snapshot.
func JobMessage(event SSEEvent, job *types.Job) SSEMessage {
	return SSEMessage{
		Channel: ChannelJobs,
		Event:   event,
		Data: JobEventData{
			JobID:       job.ID,
			SKU:         job.SKU,
			Theme:       job.Theme,
			Status:      job.Status,
			Attempt:     job.Attempt,
			ManifestKey: job.ManifestKey,
			Error:       job.ErrorInfo(),
		},
	}
}

// EventForStatus maps a transition target onto its stream event.
func EventForStatus(s types.Status) SSEEvent {
	switch s {
	case types.StatusDone:
		return SSEEventJobDone
	case types.StatusFailed:
		return SSEEventJobFailed
	default:
		return SSEEventJobProgress
	}
}
