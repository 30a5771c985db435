// Package message parses the dotted client protocol into typed messages.
//
// A frame is a UTF-8 string whose fields are joined by '.'; field 0 is the
// tag. Chat text cannot carry a literal '.', so clients encode periods as the
// "~~~" sentinel.
package message

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates fields of an inbound frame
const Delimiter = "."

// PeriodSentinel stands in for '.' inside chat text
const PeriodSentinel = "~~~"

// Type is the tag carried in field 0
type Type string

const (
	TypeClickedObj   Type = "clickedObj"
	TypePlayerTyping Type = "playerTyping"
	TypeChatMessage  Type = "chatMessage"
	TypeHeartbeat    Type = "h"
)

var (
	// ErrMalformed is returned when a known tag has the wrong number of fields
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for tags outside the closed set
	ErrUnknownType = errors.New("unknown message type")
)

// Message is one parsed inbound frame
type Message interface {
	Type() Type
}

// ClickedObj is sent when the listener clicks an object
type ClickedObj struct {
	ClickedName string
	ObjBox      string
}

// PlayerTyping reports the raw typing flag
type PlayerTyping struct {
	Typing string
}

// ChatMessage holds the still-escaped chat text and the client-side elapsed time
type ChatMessage struct {
	Text        string
	TimeElapsed string
}

// Heartbeat reports tab visibility
type Heartbeat struct {
	Visible string
}

func (ClickedObj) Type() Type   { return TypeClickedObj }
func (PlayerTyping) Type() Type { return TypePlayerTyping }
func (ChatMessage) Type() Type  { return TypeChatMessage }
func (Heartbeat) Type() Type    { return TypeHeartbeat }

// fieldCounts is the exact number of fields, tag included, per known tag
var fieldCounts = map[Type]int{
	TypeClickedObj:   3,
	TypePlayerTyping: 2,
	TypeChatMessage:  3,
	TypeHeartbeat:    2,
}

// Parse splits raw into fields and builds the typed message for its tag.
func Parse(raw string) (Message, error) {
	parts := strings.Split(raw, Delimiter)
	t := Type(parts[0])

	want, known := fieldCounts[t]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, parts[0])
	}
	if len(parts) != want {
		return nil, fmt.Errorf("%w: %s expects %d fields, got %d", ErrMalformed, t, want, len(parts))
	}

	switch t {
	case TypeClickedObj:
		return ClickedObj{ClickedName: parts[1], ObjBox: parts[2]}, nil
	case TypePlayerTyping:
		return PlayerTyping{Typing: parts[1]}, nil
	case TypeChatMessage:
		return ChatMessage{Text: parts[1], TimeElapsed: parts[2]}, nil
	default:
		return Heartbeat{Visible: parts[1]}, nil
	}
}

// UnescapeAll replaces every sentinel with a period.
func UnescapeAll(s string) string {
	return strings.ReplaceAll(s, PeriodSentinel, Delimiter)
}

// UnescapeFirst replaces only the first sentinel. The data files have always
// been written this way, so analysis scripts depend on it.
func UnescapeFirst(s string) string {
	return strings.Replace(s, PeriodSentinel, Delimiter, 1)
}

// Escape is the client-side inverse of UnescapeAll.
func Escape(s string) string {
	return strings.ReplaceAll(s, Delimiter, PeriodSentinel)
}
