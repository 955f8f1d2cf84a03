package backend

import (
	"fmt"

	"github.com/pkg/errors"

	"j5.nz/gkc/abi"
	"j5.nz/gkc/ir"
)

// === Error Taxonomy ===

// CompilerError marks the typed failures of the compilation core. The
// orchestrator lets these propagate unchanged and wraps everything else as
// an internal compiler error.
type CompilerError interface {
	error
	CompilerError()
}

// NotSupportedIntrinsicError reports an intrinsic method without a
// registered backend implementation.
type NotSupportedIntrinsicError struct {
	Method *ir.Method
}

func (e *NotSupportedIntrinsicError) Error() string {
	return fmt.Sprintf("intrinsic %q is not supported by the current backend", e.Method.Name)
}

func (*NotSupportedIntrinsicError) CompilerError() {}

// NotSupportedPlatformError reports a platform mismatch between the
// requested target and the backend.
type NotSupportedPlatformError struct {
	Requested abi.TargetPlatform
	Actual    abi.TargetPlatform
}

func (e *NotSupportedPlatformError) Error() string {
	return fmt.Sprintf("platform %s is not supported (backend targets %s)", e.Requested, e.Actual)
}

func (*NotSupportedPlatformError) CompilerError() {}

// InvalidCodeGenerationError reports an IR shape a code generator cannot
// handle, typically a value the transformer pipeline should have
// eliminated.
type InvalidCodeGenerationError struct {
	Message string
}

func (e *InvalidCodeGenerationError) Error() string {
	return "invalid code generation: " + e.Message
}

func (*InvalidCodeGenerationError) CompilerError() {}

// InvalidCodeGenerationf formats an invalid-code-generation failure.
func InvalidCodeGenerationf(format string, args ...any) *InvalidCodeGenerationError {
	return &InvalidCodeGenerationError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedParameterTypeError reports a host parameter type the argument
// mapper cannot marshal.
type UnsupportedParameterTypeError struct {
	Type string
}

func (e *UnsupportedParameterTypeError) Error() string {
	return fmt.Sprintf("kernel parameter type %s cannot be mapped", e.Type)
}

func (*UnsupportedParameterTypeError) CompilerError() {}

// UnsupportedSharedMemoryUseError reports shared-memory variables on an
// implicitly-grouped kernel.
type UnsupportedSharedMemoryUseError struct {
	Method *ir.Method
}

func (e *UnsupportedSharedMemoryUseError) Error() string {
	return fmt.Sprintf("kernel %q uses an implicit index and cannot declare shared memory", e.Method.Name)
}

func (*UnsupportedSharedMemoryUseError) CompilerError() {}

// InternalCompilerError wraps an unexpected failure while retaining its
// cause chain.
type InternalCompilerError struct {
	Message string
	Cause   error
}

func (e *InternalCompilerError) Error() string {
	if e.Cause == nil {
		return "internal compiler error: " + e.Message
	}
	return fmt.Sprintf("internal compiler error: %s: %v", e.Message, e.Cause)
}

func (e *InternalCompilerError) Unwrap() error { return e.Cause }

func (*InternalCompilerError) CompilerError() {}

// WrapInternal wraps err as an internal compiler error unless it already is
// a typed compiler error, which propagates unchanged. Nil passes through.
func WrapInternal(message string, err error) error {
	if err == nil {
		return nil
	}
	var ce CompilerError
	if errors.As(err, &ce) {
		return err
	}
	return &InternalCompilerError{Message: message, Cause: errors.WithStack(err)}
}
