package main

import (
	"github.com/set-io/kboot/cmd"
)

// version must be set from the contents of VERSION file by go build's
// -X main.version= option in the Makefile.
var version = "unknown"

// gitCommit will be the hash that the binary was built from
// and will be populated by the Makefile
var gitCommit = ""

const (
	usage = `boot and test a bare-metal x86_64 kernel

kboot boots a kernel image under qemu or KVM, copies its serial console and
decides from the isa-debug-exit device whether its self tests passed.

Images are described by bundles. A bundle is a directory that includes a
specification file named "` + cmd.SpecConfig + `" whose vm section names the kernel
image and the hypervisor parameters.

To test a kernel:

    # kboot test [ -b bundle ]

Providing the bundle directory using "-b" is optional. The default value for
"bundle" is the current directory.`
)

func main() {
	cmd.Execute("kboot", usage, version, gitCommit)
}
