package pipeline

import "fmt"

// FaultKind classifies what went wrong. Only FatalStartupFailure stops the
// process; everything else is handled per utterance.
type FaultKind int

const (
	RecoverableAudioFault FaultKind = iota
	RecognitionFault
	ResolutionFailure
	DispatchFailure
	FatalStartupFailure
)

func (k FaultKind) String() string {
	switch k {
	case RecoverableAudioFault:
		return "audio"
	case RecognitionFault:
		return "recognition"
	case ResolutionFailure:
		return "resolution"
	case DispatchFailure:
		return "dispatch"
	case FatalStartupFailure:
		return "startup"
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

type Fault struct {
	Kind FaultKind
	Err  error
}

func (f *Fault) Error() string { return f.Kind.String() + ": " + f.Err.Error() }

func (f *Fault) Unwrap() error { return f.Err }

// Fatal marks err as a startup failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: FatalStartupFailure, Err: err}
}
