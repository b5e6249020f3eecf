package quant

import "fmt"

type unknownModelError struct {
	name string
}

func (e *unknownModelError) Error() string { return fmt.Sprintf("unknown model %s", e.name) }

// ErrUnknownModel marks an operation on an unregistered model name.
func ErrUnknownModel(name string) error { return &unknownModelError{name: name} }

// IsUnknownModel reports whether err marks an unregistered model.
func IsUnknownModel(err error) bool {
	_, ok := err.(*unknownModelError)
	return ok
}

type unknownLevelError struct {
	level string
}

func (e *unknownLevelError) Error() string {
	return fmt.Sprintf("unknown quantization level %q", e.level)
}

// ErrUnknownLevel marks a level name missing from the descriptor table.
func ErrUnknownLevel(level string) error { return &unknownLevelError{level: level} }

// IsUnknownLevel reports whether err marks an unrecognized level name.
func IsUnknownLevel(err error) bool {
	_, ok := err.(*unknownLevelError)
	return ok
}

type levelNotInChainError struct {
	model string
	level string
}

func (e *levelNotInChainError) Error() string {
	return fmt.Sprintf("level %s not in fallback chain of %s", e.level, e.model)
}

// ErrLevelNotInChain marks a switch to a level outside the model's chain.
func ErrLevelNotInChain(model, level string) error {
	return &levelNotInChainError{model: model, level: level}
}

// IsLevelNotInChain reports whether err marks a level outside the chain.
func IsLevelNotInChain(err error) bool {
	_, ok := err.(*levelNotInChainError)
	return ok
}

type switchInProgressError struct {
	model string
}

func (e *switchInProgressError) Error() string {
	return fmt.Sprintf("model %s: switch already in progress", e.model)
}

// ErrSwitchInProgress marks a switch attempted while another is running.
func ErrSwitchInProgress(model string) error { return &switchInProgressError{model: model} }

// IsSwitchInProgress reports whether err marks a concurrent switch attempt.
func IsSwitchInProgress(err error) bool {
	_, ok := err.(*switchInProgressError)
	return ok
}
