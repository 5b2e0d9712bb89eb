// Package redis connects to Redis with go-redis/v9.
//
// Connect parses Config.ConnectionURL, pings the server and retries within
// ConnectTimeout. The resulting client backs schedule.RedisSource, which keeps
// rollout window configuration in a key and announces changes on a channel.
// Healthcheck wraps Ping for health endpoints.
package redis
