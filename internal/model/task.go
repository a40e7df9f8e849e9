package model

import (
	"fmt"
	"strings"
	"time"
)

// ContractType identifies which side of the bridge a program belongs to.
type ContractType string

const (
	ContractSource      ContractType = "SOURCE"
	ContractDestination ContractType = "DESTINATION"
)

// ContractTypes lists the sides in polling order.
var ContractTypes = []ContractType{ContractSource, ContractDestination}

// ParseContractType accepts a side name in any case.
func ParseContractType(input string) (ContractType, error) {
	switch ContractType(strings.ToUpper(strings.TrimSpace(input))) {
	case ContractSource:
		return ContractSource, nil
	case ContractDestination:
		return ContractDestination, nil
	default:
		return "", fmt.Errorf("unknown contract type: %q", input)
	}
}

// EventName returns the order event recorded by transactions of this side.
func (c ContractType) EventName() string {
	switch c {
	case ContractSource:
		return EventOrderCreated
	case ContractDestination:
		return EventOrderFulfilled
	default:
		return ""
	}
}

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderFulfilled = "OrderFulfilled"
)

// TaskStatus is the queue state of a task.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskWorking TaskStatus = "WORKING"
	TaskReady   TaskStatus = "READY"
	TaskError   TaskStatus = "ERROR"
)

// Task is one captured transaction waiting to be processed.
type Task struct {
	ID           int64
	Signature    string
	Slot         uint64
	ContractType ContractType
	EventName    string
	RawData      []byte
	Status       TaskStatus
	ErrorMessage *string
	BlockTime    *time.Time
	BlockTimeInt *int64
	ClaimedBy    *string
}

// NewTask carries the fields the poller writes when it captures a transaction.
type NewTask struct {
	Signature    string
	Slot         uint64
	ContractType ContractType
	RawData      []byte
	BlockTime    *int64
}

// BlockTimestamp converts the unix block time, if known.
func (t NewTask) BlockTimestamp() *time.Time {
	if t.BlockTime == nil {
		return nil
	}
	ts := time.Unix(*t.BlockTime, 0).UTC()
	return &ts
}
