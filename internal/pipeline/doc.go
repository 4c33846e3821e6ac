// Package pipeline provides the request pipeline execution engine.
//
// A pipeline is an ordered list of stages applied identically to every
// request before routing. Each stage either lets the request continue
// (optionally replacing it with a derived request) or short-circuits by
// writing the response itself. A stage that returns an error stops the
// chain and hands the error to the executor's error handler.
//
// # Composition
//
// The executor is built once per process and composed with the terminal
// handler once:
//
//	exec := pipeline.NewExecutor(pipeline.ExecutorConfig{
//		Stages: []pipeline.StageConfig{
//			{Name: "cors", Order: 20, Stage: corsStage},
//			{Name: "rate_limit", Order: 30, Stage: limiter},
//		},
//		OnError: writeError,
//	})
//	handler := exec.Then(router)
//
// # Middleware adapters
//
// FromMiddleware wraps any func(http.Handler) http.Handler as a stage. The
// stage continues if the middleware calls its next handler and short-circuits
// otherwise.
//
// # Observation
//
// An Observer receives one Decision per executed stage. The server uses it to
// record the per-request decision trace.
package pipeline
