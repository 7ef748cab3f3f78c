// Package resource bounds concurrency and request rate for pipeline workers.
//
// A Controller combines two limits:
//
//   - In-flight: a weighted semaphore capping how many units (for example
//     node adjacency builds) a worker runs at once
//   - Requests: a token bucket pacing calls against the backing store
//
// Usage:
//
//	rc := resource.NewController(resource.Config{
//	    MaxInFlight:       5,
//	    RequestsPerSecond: 200,
//	})
//
//	if err := rc.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer rc.Release()
//
//	if err := rc.Wait(ctx); err != nil { // before each store call
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
// This allows optional limiting without nil checks everywhere.
package resource
