// Package events contains the WebSocket event contracts pushed to dive UI
// clients.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Selection state
	MessageTypeActiveStack MessageType = "stack:active"
	MessageTypeActiveTop   MessageType = "stack:top"
	MessageTypeStacks      MessageType = "stack:list"

	// Job progress
	MessageTypeProgress MessageType = "job:progress"
	MessageTypeCounts   MessageType = "job:counts"

	// Connection messages
	MessageTypeConnect MessageType = "connect"
	MessageTypeError   MessageType = "error"
)

// BaseMessage represents the base structure for all WebSocket messages
type BaseMessage struct {
	ID        string      `json:"id,omitempty"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// WebSocketMessage represents a complete WebSocket message
type WebSocketMessage struct {
	BaseMessage
	Data interface{} `json:"data,omitempty"`
}

// OperationView is the client view of one resolved operation
type OperationView struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	QueryID     string `json:"query_id"`
	Fingerprint string `json:"fingerprint"`
}

// StackView is the client view of one analysis stack
type StackView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Color   string          `json:"color"`
	Active  bool            `json:"active"`
	History []OperationView `json:"history"`
}

// ProgressEvent reports the progress of the current batch
type ProgressEvent struct {
	Epoch      int64   `json:"epoch"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Step       string  `json:"step,omitempty"`
	Processed  int     `json:"processed,omitempty"`
	StepTotal  int     `json:"step_total,omitempty"`
	Finished   bool    `json:"finished"`
}

// StackCount is the region count of one stack's current operation
type StackCount struct {
	Stack   int    `json:"stack"`
	Name    string `json:"name"`
	QueryID string `json:"query_id"`
	Count   int64  `json:"count"`
}

// ExperimentCounts holds the per-stack intersection counts of one experiment
type ExperimentCounts struct {
	Experiment string       `json:"experiment"`
	QueryID    string       `json:"query_id"`
	Counts     []StackCount `json:"counts"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	BaseMessage
	Data struct {
		Code    string      `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	} `json:"data"`
}
