// Package providers holds the pieces shared by the concrete provider
// packages: HTTP error mapping, the OpenAI-compatible wire types and the
// HTTP client used against local inference servers.
package providers
