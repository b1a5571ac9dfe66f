//go:build !whisper_cpp

package whisper

import "errors"

// ErrNotCompiled is returned by NewEngine when the binary was built without
// the whisper_cpp tag.
var ErrNotCompiled = errors.New("whisper.cpp support is disabled in this build (rebuild with -tags whisper_cpp)")

func NewEngine(opts Options) (Engine, error) { return nil, ErrNotCompiled }
