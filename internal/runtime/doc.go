// Package runtime wires storage, the CAS backend, and the store facade
// into a single-node Strata instance. It exposes Open/Close and a basic
// health check.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	_, _ = rt.Store().Append(context.Background(), "world/dlq", []byte("hello"))
package runtime
