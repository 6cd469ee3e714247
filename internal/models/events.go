package models

import "time"

// EventKind distinguishes inbound free text from a discrete selection.
type EventKind string

const (
	EventText      EventKind = "text"
	EventSelection EventKind = "selection"
)

// InboundEvent is one user action delivered by a transport.
type InboundEvent struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Kind        EventKind `json:"kind"`
	Text        string    `json:"text,omitempty"`
	Choice      string    `json:"choice,omitempty"`
	Time        time.Time `json:"time"`
}

// TextEvent builds a free-text event.
func TextEvent(userID, text string) InboundEvent {
	return InboundEvent{UserID: userID, Kind: EventText, Text: text, Time: time.Now()}
}

// SelectionEvent builds a selection event carrying a choice id.
func SelectionEvent(userID, choice string) InboundEvent {
	return InboundEvent{UserID: userID, Kind: EventSelection, Choice: choice, Time: time.Now()}
}

// Choice is one selectable option attached to an outbound message.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// EffectKind is the type of outbound action.
type EffectKind string

const (
	EffectText         EffectKind = "text"
	EffectImage        EffectKind = "image"
	EffectEdit         EffectKind = "edit"
	EffectClearSession EffectKind = "session_cleared"
)

// Effect is an outbound action produced by a dispatch, handed to the transport in order.
type Effect struct {
	Kind    EffectKind `json:"kind"`
	Text    string     `json:"text,omitempty"`
	Image   []byte     `json:"-"`
	Choices []Choice   `json:"choices,omitempty"`
}

// SendText is a plain or choice-carrying text effect.
func SendText(text string, choices ...Choice) Effect {
	return Effect{Kind: EffectText, Text: text, Choices: choices}
}

// SendImage is an image effect with a caption.
func SendImage(img []byte, caption string) Effect {
	return Effect{Kind: EffectImage, Image: img, Text: caption}
}

// EditLast replaces the previous outbound message when the transport supports it.
func EditLast(text string) Effect {
	return Effect{Kind: EffectEdit, Text: text}
}

// SessionCleared records that the active session was destroyed.
func SessionCleared() Effect {
	return Effect{Kind: EffectClearSession}
}

// IsVisible reports whether the effect produces a message the user sees.
func (e Effect) IsVisible() bool {
	return e.Kind != EffectClearSession
}
