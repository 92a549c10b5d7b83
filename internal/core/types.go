// Package core holds the domain types shared by every PushBot component:
// the Persistence Gateway, the Scheduler, the Runner, and the Broadcaster
// all speak in terms of these structs rather than owning their own copies.
package core

import "time"

// DeploymentStatus is the lifecycle state of a Deployment. Transitions are
// monotone along Queued -> Running -> {Success|Failed}; terminal statuses
// never change.
type DeploymentStatus string

const (
	StatusQueued  DeploymentStatus = "queued"
	StatusRunning DeploymentStatus = "running"
	StatusSuccess DeploymentStatus = "success"
	StatusFailed  DeploymentStatus = "failed"
)

// Terminal reports whether s is a terminal status.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// TriggerSource identifies what caused a Deployment to be created.
type TriggerSource string

const (
	TriggeredByWebhook TriggerSource = "webhook"
	TriggeredByManual  TriggerSource = "manual"
)

// Service is a user-declared deployment target: a repository/branch pair,
// a local working directory, and the shell command that deploys it.
type Service struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Repository    string    `json:"repository"`
	Path          string    `json:"path"`
	Branch        string    `json:"branch"`
	DeployCommand string    `json:"deploy_command"`
	CreatedAt     time.Time `json:"created_at"`
}

// Deployment is one execution attempt of a Service's deploy command.
type Deployment struct {
	ID             int64            `json:"id"`
	ServiceID      int64            `json:"service_id"`
	Status         DeploymentStatus `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	ExitCode       *int             `json:"exit_code,omitempty"`
	Stdout         string           `json:"stdout,omitempty"`
	Stderr         string           `json:"stderr,omitempty"`
	CommitSHA      *string          `json:"commit_sha,omitempty"`
	CommitMessage  *string          `json:"commit_message,omitempty"`
	Branch         *string          `json:"branch,omitempty"`
	TriggeredBy    TriggerSource    `json:"triggered_by"`
}

// DeploymentWithService enriches a Deployment with its owning Service's
// name, the shape the "active deployments" listing endpoint returns.
type DeploymentWithService struct {
	Deployment
	ServiceName string `json:"service_name"`
}

// LogStream identifies which child-process stream a LogLine came from.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// LogLine is one captured, timestamped line of deployment output. Lines
// live only in a Runner's in-memory ring; they are flushed into
// Deployment.Stdout/Stderr text blobs at finalization and then discarded.
type LogLine struct {
	Timestamp time.Time
	Stream    LogStream
	Text      string
}

// ServiceConfig is one entry of the externally-loaded YAML service list
// (see internal/config). It is the contract the out-of-scope config
// loader hands to the Service Registry.
type ServiceConfig struct {
	Name          string `yaml:"name"`
	Repository    string `yaml:"repository"`
	Path          string `yaml:"path"`
	Branch        string `yaml:"branch"`
	DeployCommand string `yaml:"deploy_command"`
}
