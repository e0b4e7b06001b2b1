package runner

import "errors"

var (
	ErrNoKernel       = errors.New("no kernel image given")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrUnknownFormat  = errors.New("unknown image format")
	ErrNoVM           = errors.New("bundle config has no vm section")
	ErrHookExists     = errors.New("hook already registered")
	ErrHostedImage    = errors.New("image starts in the Go runtime's linux entry point; boot it with the kvm backend")
)
