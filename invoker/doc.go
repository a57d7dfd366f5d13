// Package invoker provides model endpoint invokers.
//
// HTTP speaks the OpenAI-compatible chat completions protocol and returns
// errors the resilience classifier understands: non-2xx responses become
// *StatusError (429 and 5xx are transient, other 4xx permanent), and a
// response without choices is permanent.
//
// Static returns fixed text and is meant for local setups and tests.
package invoker
