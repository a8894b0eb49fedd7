package main

import (
	"fmt"
	"strings"
)

// ActorKind is the workflow role that drives guard checks.
type ActorKind string

const (
	ActorDesigner     ActorKind = "designer"
	ActorSupplier     ActorKind = "supplier"
	ActorManufacturer ActorKind = "manufacturer"
	ActorLab          ActorKind = "lab"
	ActorTester       ActorKind = "tester"
)

// ParseActorKind maps a token role to an actor kind. Roles outside the
// workflow (logistics, accountant) report false.
func ParseActorKind(role string) (ActorKind, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "designer":
		return ActorDesigner, true
	case "supplier":
		return ActorSupplier, true
	case "manufacturer":
		return ActorManufacturer, true
	case "lab", "laboratory":
		return ActorLab, true
	case "tester", "quality_tester":
		return ActorTester, true
	default:
		return "", false
	}
}

// Actor is the authenticated caller of a transition.
type Actor struct {
	ID   string    `json:"id"`
	Kind ActorKind `json:"kind"`
}

func (a Actor) require(kind ActorKind) error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing actor identity", ErrForbidden)
	}
	if a.Kind != kind {
		return fmt.Errorf("%w: %s role required, caller is %q", ErrForbidden, kind, a.Kind)
	}
	return nil
}
