// Package scrape defines core types shared across subsystems.
package scrape

import (
	"encoding/json"
	"time"
)

// Platform identifies the social network an item originated from.
type Platform string

// Supported platforms.
const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

// SourceType identifies how a discovery target is interpreted.
type SourceType string

// Supported source types.
const (
	SourceProfile SourceType = "profile"
	SourceHashtag SourceType = "hashtag"
	SourceKeyword SourceType = "keyword"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SourceSpec names one discovery target inside a job.
type SourceSpec struct {
	Platform Platform   `json:"platform"`
	Type     SourceType `json:"type"`
	Value    string     `json:"value"`
	MaxItems int        `json:"max_items"`
}

// Target is the resolved input to a single discovery call.
type Target struct {
	Platform Platform
	Type     SourceType
	Value    string
	MaxItems int
}

// RawItem is one untyped platform payload as captured from the wire.
type RawItem map[string]any

// Author captures the minimal author fields tracked per item or comment.
type Author struct {
	Username      string `json:"username"`
	FollowerCount int64  `json:"follower_count,omitempty"`
	Verified      bool   `json:"verified,omitempty"`
}

// Metrics holds per-item engagement counters. Missing platform fields
// normalize to zero rather than failing the item.
type Metrics struct {
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
	ShareCount   int64 `json:"share_count"`
	PlayCount    int64 `json:"play_count"`
}

// CanonicalItem is the normalized representation of one discovered post,
// independent of platform and scraping method. ID is stable across scrapes
// of the same platform so re-scrapes can be deduplicated.
type CanonicalItem struct {
	ID          string          `json:"id"`
	Platform    Platform        `json:"platform"`
	SourceType  SourceType      `json:"source_type"`
	SourceValue string          `json:"source_value"`
	URL         string          `json:"url"`
	Text        string          `json:"text,omitempty"`
	Author      Author          `json:"author"`
	Metrics     Metrics         `json:"metrics"`
	CreatedAt   time.Time       `json:"created_at"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	Comments    []Comment       `json:"comments"`
}

// Comment is one top-level comment attached to a CanonicalItem. ItemID is a
// back-reference, not ownership.
type Comment struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Text      string    `json:"text"`
	Author    Author    `json:"author"`
	LikeCount int64     `json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress reports how far a running job has advanced.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// ScrapeJob is the persisted record for one discovery-and-enrichment run.
// Jobs are never deleted; terminal rows stay behind as an audit trail.
type ScrapeJob struct {
	ID          string       `json:"id"`
	CampaignRef string       `json:"campaign_ref"`
	Sources     []SourceSpec `json:"sources"`
	Status      JobStatus    `json:"status"`
	Progress    Progress     `json:"progress"`
	QueuedAt    time.Time    `json:"queued_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Summary counts what a run actually produced. Degraded runs show up as
// lower counts, not as errors.
type Summary struct {
	SourcesProcessed int `json:"sources_processed"`
	TotalItems       int `json:"total_items"`
	TotalComments    int `json:"total_comments"`
	NewItems         int `json:"new_items"`
	NewComments      int `json:"new_comments"`
}

// Artifact is the output document handed to the blob store at the end of a
// run.
type Artifact struct {
	JobID   string          `json:"job_id"`
	Items   []CanonicalItem `json:"items"`
	Summary Summary         `json:"summary"`
}

// RunOptions bounds a single actor invocation.
type RunOptions struct {
	WaitTimeout time.Duration
}
