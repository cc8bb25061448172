// Package hub is the central coordinator of door nodes.
//
// The Registry assigns dense door identities and holds each door's
// pending-open flag. The Coordinator wraps it with the hub's behaviour:
// relaying frames to the recognition backend and triggering a recognition
// pass, answering door polls, and ingesting open decisions from an external
// source on a fixed interval.
//
// The open flag is level-triggered. Two decisions that arrive between polls
// collapse into one open notification: at most one pending open per poll
// interval, never a queue.
package hub
