// Package handlers contains health check interfaces and implementations
// shared by the HTTP servers.
//
// The composite checker runs multiple named dependency probes in
// parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.NewPingCheck(db))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("codeforces", handlers.NewJudgeCheck("codeforces", cfClient))
//
//	status := checker.Check(ctx)
//	if !status.Healthy {
//	    log.Printf("health check failed: %s", status.Message)
//	}
//
// Keep individual checks fast; the composite checker bounds each one
// with a timeout so a slow dependency cannot block the probe endpoint.
package handlers
