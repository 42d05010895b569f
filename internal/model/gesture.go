package model

import "fmt"

type GestureKind uint8

const (
	GestureNone GestureKind = iota
	GestureLike
	GestureOk
	GestureStop
	GesturePeace
	GestureHangLoose
	GestureUnknown
)

// Gesture is a decoded sensor gesture code. Codes outside the known
// table decode to GestureUnknown and keep the raw code.
type Gesture struct {
	Kind GestureKind
	Code uint16
}

func ParseGesture(code uint16) Gesture {
	if code < uint16(GestureUnknown) {
		return Gesture{Kind: GestureKind(code), Code: code}
	}
	return Gesture{Kind: GestureUnknown, Code: code}
}

func (g Gesture) Known() bool { return g.Kind != GestureUnknown }

func (g Gesture) String() string {
	switch g.Kind {
	case GestureNone:
		return "NONE"
	case GestureLike:
		return "LIKE"
	case GestureOk:
		return "OK"
	case GestureStop:
		return "STOP"
	case GesturePeace:
		return "PEACE"
	case GestureHangLoose:
		return "HANG LOOSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", g.Code)
	}
}
