// Package auth authenticates callers of the relay's HTTP API and decides
// which actions they may perform.
//
// Callers present either an API key (X-API-Key) or a bearer JWT. A Chain
// tries each configured method in turn and records which one accepted, and
// RoleAuthorizer maps actions such as "generate" or "endpoints:reset" to the
// roles allowed to perform them.
package auth
