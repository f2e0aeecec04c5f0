// Package flowguard provides client-side flow control for calls to a remote
// service: per-endpoint admission control, error classification for retries
// and the shared error taxonomy used by the retry, track and query
// subpackages.
//
// # Key Concepts
//
//   - [Strategy] decides whether a unit of work may proceed now. Four kinds
//     exist: [FixedWindow], [TokenBucket], [LeakyBucket] and [Adaptive], which
//     scales another strategy on throttling feedback.
//   - [StrategyConfig] describes a strategy declaratively. The [Manager]
//     builds one instance per endpoint key from it, lazily on first use.
//   - [Endpoint] binds a key pattern (exact, glob or prefix) to a config.
//   - [store.Store] holds fixed-window counters. An in-memory store is used
//     by default; SQLite, tiered and Redis backends persist or share counts.
//
// # Quick Start
//
//	m := flowguard.New()
//	m.Register(flowguard.Endpoint{
//		Pattern:  "api.example.com/v1/*",
//		Strategy: flowguard.StrategyConfig{Kind: flowguard.KindTokenBucket, Rate: 5, Capacity: 10},
//	})
//
//	// Block until admitted, or fail fast if ctx's deadline cannot be met.
//	if err := m.Wait(ctx, "api.example.com/v1/volumes", 1); err != nil {
//		return err
//	}
//
//	// Or wrap an http.Client to enforce limits and learn from 429s.
//	client := &http.Client{Transport: m.Transport(nil)}
//
// See the [Manager] documentation for the full API.
package flowguard
