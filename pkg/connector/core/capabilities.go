package core

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// Capability names one optional connector operation.
type Capability string

const (
	CapabilitySource   Capability = "source"
	CapabilityTarget   Capability = "target"
	CapabilityPollable Capability = "pollable"
	CapabilityExecutor Capability = "executor"
)

// CapabilitySet reports which operations a connector supports.
type CapabilitySet struct {
	Source   bool `json:"source"`
	Target   bool `json:"target"`
	Pollable bool `json:"pollable"`
	Executor bool `json:"executor"`
}

// Capabilities inspects c for the optional interfaces.
func Capabilities(c Connector) CapabilitySet {
	_, source := c.(Source)
	_, target := c.(Target)
	_, pollable := c.(Pollable)
	_, executor := c.(Executor)
	return CapabilitySet{Source: source, Target: target, Pollable: pollable, Executor: executor}
}

// Has reports whether the set includes capability.
func (s CapabilitySet) Has(capability Capability) bool {
	switch capability {
	case CapabilitySource:
		return s.Source
	case CapabilityTarget:
		return s.Target
	case CapabilityPollable:
		return s.Pollable
	case CapabilityExecutor:
		return s.Executor
	}
	return false
}

func (s CapabilitySet) String() string {
	var names []string
	for _, c := range []Capability{CapabilitySource, CapabilityTarget, CapabilityPollable, CapabilityExecutor} {
		if s.Has(c) {
			names = append(names, string(c))
		}
	}
	return strings.Join(names, ",")
}

// Require fails with ErrorTypeCapability unless c supports capability.
func Require(c Connector, capability Capability) error {
	if Capabilities(c).Has(capability) {
		return nil
	}
	return errors.New(errors.ErrorTypeCapability,
		fmt.Sprintf("connector %q does not support %s", c.Name(), capability))
}

// AsSource returns c as a Source after a capability check.
func AsSource(c Connector) (Source, error) {
	if err := Require(c, CapabilitySource); err != nil {
		return nil, err
	}
	return c.(Source), nil
}

// AsTarget returns c as a Target after a capability check.
func AsTarget(c Connector) (Target, error) {
	if err := Require(c, CapabilityTarget); err != nil {
		return nil, err
	}
	return c.(Target), nil
}

// AsExecutor returns c as an Executor after a capability check.
func AsExecutor(c Connector) (Executor, error) {
	if err := Require(c, CapabilityExecutor); err != nil {
		return nil, err
	}
	return c.(Executor), nil
}
