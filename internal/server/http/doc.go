// Package httpserver provides the JSON admin surface for a Strata node:
// scope configuration, record append/list, delivery metrics, archive
// flush, retention replace, and the Prometheus /metrics endpoint.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8180")
package httpserver
