package flowguard

// Endpoint binds a key pattern to the strategy every matching endpoint key
// receives. Each key gets its own strategy instance.
type Endpoint struct {
	Pattern  string         // exact key, glob such as "GET /users/*", or key prefix
	Strategy StrategyConfig // instantiated once per matching key
}
