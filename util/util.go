// Package util holds small generic helpers shared across the node.
package util

import (
	"github.com/go-kit/kit/log"
)

// CheckWarn logs e as a warning if non-nil and reports whether it did.
// Used at cleanup/shutdown call sites where an error is worth a log line
// but not worth a distinct message or a propagated return.
func CheckWarn(e error, logger log.Logger) bool {
	if e != nil {
		logger.Log("msg", "warning", "error", e)
		return true
	}
	return false
}
