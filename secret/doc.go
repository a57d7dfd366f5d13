// Package secret resolves endpoint credentials referenced from configuration.
//
// Configuration values pass through strict environment expansion and then
// "secretref:" resolution:
//
//	api_key: ${OPENAI_API_KEY}
//	api_key: secretref:env:OPENAI_API_KEY
//	api_key: secretref:file:/run/secrets/openai
//	header:  Bearer secretref:env:TOKEN
//
// The built-in providers are "env" and "file". Others can be added through
// a Registry. Providers never log secret values.
package secret
