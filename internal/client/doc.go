// ABOUTME: Package documentation for the orchestration-facing gateway client.
// ABOUTME: Describes the per-turn flow and the memory bracketing.

// Package client is the agent-facing driver for the gateway.
//
// On each turn the TurnRunner fetches recent session history through the
// memory hook, pulls the current tool list from the gateway, hands both to
// the reasoning loop, and relays any chosen tool call back through the
// gateway. New turns are persisted after the reply is produced.
//
// The reasoning loop itself is a black box; this package only does the
// plumbing around it.
package client
