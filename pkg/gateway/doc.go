// Package gateway exposes queue worker operations over HTTP so executors
// running outside the process that owns the store can pull and report on jobs.
//
// NewHandler returns a chi router serving, for every configured queue:
//
//	POST /{queue}/dequeue    200 {"job": {...}, "lease_token": "..."} or 204
//	POST /{queue}/heartbeat  200 {"stale": bool}
//	POST /{queue}/complete   204, or 409 when the lease is stale
//	POST /{queue}/fail       200 {"state": "..."}, or 409 when the lease is stale
//
// Unknown queues answer 404, malformed bodies 400 and store failures 500 with
// {"error": "..."}. The retry policy of each queue lives on the server; the
// executor only says whether a failure is permanent.
//
// Client implements queue.WorkerRepository on top of these endpoints, so an
// executor runs the regular queue.Worker against a remote store:
//
//	client, err := gateway.NewClient("http://jobs.internal:8080/queues", "reports",
//		gateway.WithClientAccessToken(token))
//	worker, err := queue.NewWorker(client, registry, queue.WithQueue("reports"))
//	go worker.Start()
package gateway
