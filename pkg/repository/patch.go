package repository

import "alertbox/models"

// Patch is a partial update of an alert's scalar fields. Nil means "keep the
// stored value".
type Patch struct {
	Sender      *string
	Age         *int
	Description *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Sender == nil && p.Age == nil && p.Description == nil
}

// Apply merges the patch over a snapshot. It does not touch the store.
func (p Patch) Apply(a models.Alert) models.Alert {
	if p.Sender != nil {
		a.Sender = *p.Sender
	}
	if p.Age != nil {
		a.Age = *p.Age
	}
	if p.Description != nil {
		d := *p.Description
		a.Description = &d
	}
	return a
}
