package model

import (
	"encoding/json"
	"time"
)

type AuthorKind int

const (
	AuthorApp AuthorKind = iota
	AuthorLocal
	AuthorRemote
)

func (a AuthorKind) String() string {
	switch a {
	case AuthorApp:
		return "app"
	case AuthorLocal:
		return "local"
	case AuthorRemote:
		return "remote"
	}
	return "unknown"
}

type (
	FormComponent struct {
		ID    string `json:"id"`
		Label string `json:"label,omitempty"`
		Value string `json:"value,omitempty"`
	}

	Form struct {
		ID         string          `json:"id,omitempty"`
		Components []FormComponent `json:"components"`
	}

	CalendarInvite struct {
		Title    string        `json:"title"`
		Start    time.Time     `json:"start"`
		Duration time.Duration `json:"duration"`
		Location string        `json:"location,omitempty"`
	}

	// MessageValue is the decrypted payload of a message. Exactly one of
	// Text, Quill, Form or CalendarInvite is set, unless Failure is.
	MessageValue struct {
		Text           *string         `json:"text,omitempty"`
		Quill          json.RawMessage `json:"quill,omitempty"`
		Form           *Form           `json:"form,omitempty"`
		CalendarInvite *CalendarInvite `json:"calendarInvite,omitempty"`
		Failure        bool            `json:"failure,omitempty"`
	}

	// PredecessorReference points at the last remote message the sender had
	// verified when the message was composed.
	PredecessorReference struct {
		ID   string `json:"id"`
		Hash []byte `json:"hash"`
	}

	Message struct {
		ID                  string
		AuthorKind          AuthorKind
		Timestamp           time.Time
		SelfDestructTimeout time.Duration
		Hash                []byte
		Key                 []byte
		Value               *MessageValue
	}

	LastConfirmed struct {
		ID    string `json:"id"`
		Index int    `json:"index"`
	}
)

func TextValue(text string) *MessageValue {
	return &MessageValue{Text: &text}
}

// FailureValue is shown in place of a value that could not be fetched or
// verified.
func FailureValue() *MessageValue {
	return &MessageValue{Failure: true}
}

func (v *MessageValue) Valid() bool {
	if v == nil {
		return false
	}

	n := 0
	if v.Text != nil {
		n++
	}
	if len(v.Quill) > 0 {
		n++
	}
	if v.Form != nil {
		n++
	}
	if v.CalendarInvite != nil {
		n++
	}

	if v.Failure {
		return n == 0
	}
	return n == 1
}

func (v *MessageValue) String() string {
	switch {
	case v == nil:
		return ""
	case v.Failure:
		return "(message could not be decrypted)"
	case v.Text != nil:
		return *v.Text
	case len(v.Quill) > 0:
		return "(rich text)"
	case v.Form != nil:
		return "(form)"
	case v.CalendarInvite != nil:
		return "(calendar invite: " + v.CalendarInvite.Title + ")"
	}
	return ""
}

// Verified reports whether the message carries a store reference.
func (m *Message) Verified() bool {
	return len(m.Hash) > 0
}
