package raft

import (
	"encoding/json"

	"github.com/boothworks/printfleet/print"
)

// CommandType identifies a state machine command.
type CommandType string

const (
	SetProfile    CommandType = "SET_PROFILE"
	DeleteProfile CommandType = "DELETE_PROFILE"
	ReserveQuota  CommandType = "RESERVE_QUOTA"
	ReleaseQuota  CommandType = "RELEASE_QUOTA"
	SetLimits     CommandType = "SET_LIMITS"
	ResetSession  CommandType = "RESET_SESSION"
	ResetEvent    CommandType = "RESET_EVENT"
)

// Command is one replicated mutation of the shared booth state: driver
// profiles and quota counters. Pool runtime health is deliberately not
// here; each booth judges its own printers.
type Command struct {
	Type CommandType `json:"type"`

	Profile *print.Profile `json:"profile,omitempty"`
	Printer string         `json:"printer,omitempty"`
	Format  print.Format   `json:"format,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Copies    int    `json:"copies,omitempty"`

	SessionLimit int `json:"session_limit,omitempty"`
	EventLimit   int `json:"event_limit,omitempty"`
}

// Marshal serializes a command for the raft log.
func (c *Command) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCommand deserializes a command from a raft log entry.
func UnmarshalCommand(data []byte) (*Command, error) {
	var c Command
	err := json.Unmarshal(data, &c)
	return &c, err
}
