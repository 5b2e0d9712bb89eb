// Package schedule describes how fast deferred jobs may be promoted over time.
//
// A Schedule is an immutable, ordered and contiguous list of windows. Each window
// carries a Rate ("10/hour", "unlimited", "0/minute" for paused) and Active returns the
// single window covering a given instant.
//
// Operators do not write schedules directly. They write a Configuration of rollout
// windows, matched in order against the day of week and the UTC time of day:
//
//	windows:
//	  - rate: unlimited
//	    days: [saturday, sunday]
//	  - rate: 30/hour
//	    start: "09:00"
//	    end: "17:00"
//
// Configuration.Schedule compiles the rules into a Schedule valid until the next UTC
// midnight. Instants matched by no window are paused; an empty configuration is unlimited.
// Validation failures are reported as a *ConfigError listing every problem.
//
// A Source hands out the current Schedule and notifies subscribers when the
// configuration changes. StaticSource and FixedSource live in memory, FileSource
// watches a YAML file and RedisSource follows a Redis key plus a pub/sub channel.
package schedule
