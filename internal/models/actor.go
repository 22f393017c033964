package models

import (
	"github.com/google/uuid"
)

// SystemActorID attributes timeline entries that no user triggered
// (gateway confirmations, the expiry sweep).
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

const SystemActorName = "system"

// Actor is the authenticated caller of an operation. Identity comes from the
// auth layer; permissions are always re-checked against the Offer/Job parties.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// System returns the actor used for system-triggered transitions.
func System() Actor {
	return Actor{ID: SystemActorID, Name: SystemActorName}
}

func (a Actor) IsSystem() bool { return a.ID == SystemActorID }
