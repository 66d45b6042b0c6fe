package runtime

// Signal is the explicit result of one step: continue to the next step,
// halt the run pending an external event, or fail it. The engine
// switches on the kind; steps never reach into the engine to stop it.
type Signal struct {
	kind   signalKind
	Reason string
	Err    error
}

type signalKind int

const (
	signalContinue signalKind = iota
	signalHalt
	signalFail
)

func Continue() Signal { return Signal{kind: signalContinue} }

func Halt(reason string) Signal { return Signal{kind: signalHalt, Reason: reason} }

func Fail(err error) Signal { return Signal{kind: signalFail, Err: err} }

func (s Signal) IsContinue() bool { return s.kind == signalContinue }
func (s Signal) IsHalt() bool     { return s.kind == signalHalt }
func (s Signal) IsFail() bool     { return s.kind == signalFail }
