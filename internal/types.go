package internal

// ImageName represents a Docker image reference such as "python:3".
type ImageName string

// ExecutionID identifies one run of user code across log lines.
type ExecutionID string
