// Package internal contains shared types and utilities for dockerrun.
//
// It provides configuration parsing, execution identifiers, logger
// construction and cleanup orchestration used by the docker and api packages.
package internal
