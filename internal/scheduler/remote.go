package scheduler

import (
	"context"
	"fmt"
)

// RemoteExecutor is the transport contract for an "api:<keys>" job
// (spec section 4.7's "Remote execution"): serialize the command,
// post it to the API instance, stream output back over a bidirectional
// connection that survives caller disconnects so the job can be
// re-attached later. The REST API surface itself is an external
// collaborator (spec.md Non-goals: "the REST API surface ... is a thin
// transport over the same Pipe operations"), so only the interface a
// caller would implement against is modeled here.
type RemoteExecutor interface {
	// Dispatch posts command to the named API instance and returns a
	// stream of combined stdout/stderr lines until the remote job
	// exits or the context is cancelled (which detaches rather than
	// stops the remote job).
	Dispatch(ctx context.Context, apiKeys string, command []string) (<-chan string, error)

	// Reattach resumes streaming output from a job already running
	// remotely, for reconnecting after a disconnect.
	Reattach(ctx context.Context, apiKeys, jobName string) (<-chan string, error)
}

// unimplementedRemoteExecutor is the default RemoteExecutor: it
// reports that no transport is configured rather than silently no-op,
// since the REST API surface is out of scope here.
type unimplementedRemoteExecutor struct{}

func (unimplementedRemoteExecutor) Dispatch(context.Context, string, []string) (<-chan string, error) {
	return nil, fmt.Errorf("scheduler: no RemoteExecutor configured for api: jobs")
}

func (unimplementedRemoteExecutor) Reattach(context.Context, string, string) (<-chan string, error) {
	return nil, fmt.Errorf("scheduler: no RemoteExecutor configured for api: jobs")
}

// DefaultRemoteExecutor is used by a Supervisor unless its Remote field
// is set to another RemoteExecutor.
var DefaultRemoteExecutor RemoteExecutor = unimplementedRemoteExecutor{}
