package connector

import (
	syncpkg "mrsm/internal/sync"
)

// AsFetchFunc adapts a Connector into the sync.FetchFunc a Syncer
// expects; Connector.Fetch already matches that signature exactly.
func AsFetchFunc(c Connector) syncpkg.FetchFunc {
	return c.Fetch
}
