// https://github.com/ewok-project/ewok-kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package result defines the uniform syscall return code (§6, §7) as a
// leaf type every kernel package can return without creating an import
// cycle back through the root kernel package: device registration, the
// DMA arbiter, the sanitize checker's callers and the syscall dispatcher
// all hand back the same four-value lattice the original kernel encodes
// as its svc return convention.
package result

import "fmt"

// Code is the uniform syscall/registration return code.
type Code int

const (
	Done Code = iota
	Invalid
	Denied
	Busy
	Max
)

func (c Code) String() string {
	switch c {
	case Done:
		return "DONE"
	case Invalid:
		return "INVAL"
	case Denied:
		return "DENIED"
	case Busy:
		return "BUSY"
	default:
		return fmt.Sprintf("Result(%d)", int(c))
	}
}
