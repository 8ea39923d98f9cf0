package pipeline

import "fmt"

type State int32

const (
	Idle State = iota
	Listening
	AwaitingFinal
	Resolving
	Acting
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case AwaitingFinal:
		return "awaiting_final"
	case Resolving:
		return "resolving"
	case Acting:
		return "acting"
	case Speaking:
		return "speaking"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
