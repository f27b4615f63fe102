// Package action defines the success-tuple convention that every engine
// operation returns, and the verb-noun key/tag filtering shared by the
// CLI and the job scheduler.
package action

import "fmt"

// Result is the universal return value of an action: (ok, message).
// It is the Go analog of the spec's "success tuple".
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Ok builds a successful Result with a formatted message.
func Ok(format string, args ...any) Result {
	return Result{OK: true, Message: fmt.Sprintf(format, args...)}
}

// Fail builds a failed Result from an error.
func Fail(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	return Result{OK: false, Message: err.Error()}
}

// Failf builds a failed Result with a formatted message.
func Failf(format string, args ...any) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// String implements fmt.Stringer for human-readable display.
func (r Result) String() string {
	status := "FAILED"
	if r.OK {
		status = "OK"
	}
	if r.Message == "" {
		return status
	}
	return fmt.Sprintf("%s: %s", status, r.Message)
}
