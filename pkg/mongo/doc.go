// Package mongo connects to MongoDB with the official v2 driver.
//
// New builds a client from Config (MONGODB_* environment variables), pings it
// and retries while the deployment is unavailable. Collection is a shortcut
// for the common "connect, then open one collection" case used by the
// mongostore queue backend. Healthcheck wraps Ping for health endpoints.
package mongo
