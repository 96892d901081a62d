package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

// sendErrKind classifies a sendto() failure the way spec.md §4.6 requires.
type sendErrKind int

const (
	sendErrFatal sendErrKind = iota
	sendErrBenign
	sendErrNoRoute
	sendErrProgrammingBug
)

// errnoNoRoute mirrors the original connector's literal errno -5 check.
// No Linux syscall actually returns this value (kernel errnos are small
// positive numbers); it is preserved here only because spec.md names it
// explicitly as a distinct classification, not because it is reachable on
// this platform.
const errnoNoRoute = unix.Errno(^uintptr(4))

// classifySendErr reports how _sendto's benign/no-route/fatal branching
// (fkie_iop_json_connector/transport/udp_uc.py, _sendto) treats err. Unlike
// the source, which logs nothing for the benign case, spec.md §4.6 says
// benign errors are "swallowed with a log line" — that explicit text
// governs over the source's silence, so callers log on sendErrBenign too.
func classifySendErr(err error) sendErrKind {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return sendErrFatal
	}
	switch errno {
	case errnoNoRoute:
		return sendErrNoRoute
	case unix.EINVAL:
		return sendErrProgrammingBug
	case unix.ENETDOWN, unix.ENETUNREACH, unix.ENETRESET:
		return sendErrBenign
	default:
		return sendErrFatal
	}
}
