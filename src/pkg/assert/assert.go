package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics when the condition does not hold. It is reserved for
// invariant violations that indicate a kernel bug, never for user errors.
func Assert(condition bool, args ...any) bool {
	if condition {
		return true
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}
	filename := filepath.Base(file)

	if len(args) > 0 {
		format := args[0].(string)
		message := fmt.Sprintf(format, args[1:]...)
		panic(fmt.Sprintf("Assertion failed: %s at %s:%d\n", message, filename, line))
	}
	panic(fmt.Sprintf("Assertion failed at %s:%d\n", filename, line))
}

func NoError(err error) {
	Assert(err == nil, "expected no error, got: %v", err)
}

// Cast casts 'data' to type T, panicking when the cast is impossible.
func Cast[T any](data any) T {
	casted, ok := data.(T)
	Assert(ok, "couldn't perform a type cast")
	return casted
}
