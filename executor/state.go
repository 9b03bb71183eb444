package executor

import (
	"fmt"
	"strings"
)

// State is the executor's position in an invocation
type State int32

const (
	Idle State = iota
	LoanRequested
	LoanReceived
	PathExecuting
	ProfitCheck
	Settling
	Done
	Aborted
)

var stateNames = [...]string{
	Idle:          "Idle",
	LoanRequested: "LoanRequested",
	LoanReceived:  "LoanReceived",
	PathExecuting: "PathExecuting",
	ProfitCheck:   "ProfitCheck",
	Settling:      "Settling",
	Done:          "Done",
	Aborted:       "Aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Policy decides who may start an invocation
type Policy int

const (
	OwnerOnly Policy = iota
	Permissionless
)

func (p Policy) String() string {
	if p == Permissionless {
		return "permissionless"
	}
	return "owner-only"
}

// ParsePolicy parses the config representation of a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "owner", "owner-only", "owneronly":
		return OwnerOnly, nil
	case "any", "permissionless":
		return Permissionless, nil
	}
	return OwnerOnly, fmt.Errorf("unknown authorization policy %q", s)
}
