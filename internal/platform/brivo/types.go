package brivo

import (
	"strconv"
)

// Person is the remote identity of a member.
type Person struct {
	ID         string
	ExternalID string
	FirstName  string
	LastName   string
	Email      string
	Phone      string
}

type Group struct {
	ID   string
	Name string
}

// Mobile pass invitation states.
const (
	PassStatusPending  = "pending"
	PassStatusRedeemed = "redeemed"
	PassStatusRevoked  = "revoked"
)

type MobilePass struct {
	ID     string
	Email  string
	Status string
}

// Usable reports whether the invitation still grants, or will grant, a credential.
func (p MobilePass) Usable() bool {
	return p.Status == PassStatusPending || p.Status == PassStatusRedeemed
}

// Wire shapes. Ids are numeric remotely and strings everywhere else.

type emailPayload struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

type phonePayload struct {
	Number string `json:"number"`
	Type   string `json:"type"`
}

type personPayload struct {
	ID         int64          `json:"id,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Emails     []emailPayload `json:"emails,omitempty"`
	Phones     []phonePayload `json:"phoneNumbers,omitempty"`
}

type groupPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type passPayload struct {
	ID     int64  `json:"id,omitempty"`
	Email  string `json:"email"`
	Status string `json:"status,omitempty"`
}

type listPayload[T any] struct {
	Data   []T `json:"data"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func toPerson(p personPayload) Person {
	out := Person{ID: formatID(p.ID), ExternalID: p.ExternalID, FirstName: p.FirstName, LastName: p.LastName}
	if len(p.Emails) > 0 {
		out.Email = p.Emails[0].Address
	}
	if len(p.Phones) > 0 {
		out.Phone = p.Phones[0].Number
	}
	return out
}

func fromPerson(p Person) personPayload {
	out := personPayload{ExternalID: p.ExternalID, FirstName: p.FirstName, LastName: p.LastName}
	if p.Email != "" {
		out.Emails = []emailPayload{{Address: p.Email, Type: "Work"}}
	}
	if p.Phone != "" {
		out.Phones = []phonePayload{{Number: p.Phone, Type: "Mobile"}}
	}
	return out
}
