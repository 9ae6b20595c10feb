package feature

import (
	"errors"
	"fmt"
)

// OriginalKey is the result key under which the unmodified input frame is
// retained. It is reserved and may not be used as an operation key.
const OriginalKey = "original"

var (
	// ErrConfig marks an invalid operation configuration.
	ErrConfig = errors.New("feature: invalid configuration")

	// ErrNotImplemented is returned by Base.Extract. Concrete operations
	// must provide their own Extract.
	ErrNotImplemented = errors.New("feature: extract not implemented")

	// ErrInputType is returned when an operation receives a value of the
	// wrong kind (a batch handed to a frame operation, for example).
	ErrInputType = errors.New("feature: unexpected input type")
)

// ConfigError describes why an operation or operation list was rejected.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("feature: invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("feature %q: invalid configuration: %s", e.Key, e.Reason)
}

// Is lets errors.Is(err, ErrConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Op is the contract every feature operation satisfies.
//
// Exactly one of FrameOp and BatchOp is true. Frame operations receive a
// frame.Frame, batch operations receive a frame.Batch. Extract must not
// mutate its input and must be safe to call from several goroutines when the
// parallel strategy is in use; operations that need per-call scratch space
// implement WorkerScoped instead of sharing it.
type Op interface {
	KeyName() string
	FrameOp() bool
	BatchOp() bool
	Extract(in interface{}) (interface{}, error)
}

// WorkerScoped is implemented by operations that hold caches or scratch
// buffers. The engine calls ForWorker once per worker and uses the returned
// instance only from that worker.
type WorkerScoped interface {
	ForWorker() Op
}

// Base carries the identity and capability flags of an operation. Concrete
// operations embed it and override Extract.
type Base struct {
	key     string
	batchOp bool
	frameOp bool
}

// Ensure Base satisfies Op so embedding types only need Extract.
var _ Op = Base{}

// NewBase validates the capability flags. Exactly one of batchOp and frameOp
// must be set.
func NewBase(keyName string, batchOp, frameOp bool) (Base, error) {
	b := Base{key: keyName, batchOp: batchOp, frameOp: frameOp}
	if err := b.validate(); err != nil {
		return Base{}, err
	}
	return b, nil
}

// MustBase is NewBase for package-level operation constructors with fixed,
// known-good flags.
func MustBase(keyName string, batchOp, frameOp bool) Base {
	b, err := NewBase(keyName, batchOp, frameOp)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Base) validate() error {
	switch {
	case b.key == "":
		return &ConfigError{Reason: "empty key name"}
	case b.batchOp && b.frameOp:
		return &ConfigError{Key: b.key, Reason: "both batch_op and frame_op set"}
	case !b.batchOp && !b.frameOp:
		return &ConfigError{Key: b.key, Reason: "neither batch_op nor frame_op set"}
	}
	return nil
}

// KeyName returns the result key.
func (b Base) KeyName() string { return b.key }

// FrameOp reports whether the operation consumes single frames.
func (b Base) FrameOp() bool { return b.frameOp }

// BatchOp reports whether the operation consumes whole batches.
func (b Base) BatchOp() bool { return b.batchOp }

// Extract always fails; Base is only a capability marker.
func (b Base) Extract(interface{}) (interface{}, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotImplemented, b.key)
}

// Validate checks an operation list before a run: every operation has
// exactly one capability flag, keys are unique, and no key collides with
// OriginalKey.
func Validate(ops []Op) error {
	seen := make(map[string]struct{}, len(ops))
	for i, op := range ops {
		if op == nil {
			return &ConfigError{Reason: fmt.Sprintf("operation %d is nil", i)}
		}
		key := op.KeyName()
		if err := (Base{key: key, batchOp: op.BatchOp(), frameOp: op.FrameOp()}).validate(); err != nil {
			return err
		}
		if key == OriginalKey {
			return &ConfigError{Key: key, Reason: "key is reserved for the retained frame"}
		}
		if _, dup := seen[key]; dup {
			return &ConfigError{Key: key, Reason: "duplicate key name"}
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Keys returns the operation keys in list order.
func Keys(ops []Op) []string {
	keys := make([]string, len(ops))
	for i, op := range ops {
		keys[i] = op.KeyName()
	}
	return keys
}
