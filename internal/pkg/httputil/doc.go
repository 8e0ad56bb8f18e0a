// Package httputil provides shared HTTP response/request helpers for
// handlers.
//
// Handlers should use these instead of writing raw http.ResponseWriter
// calls so that JSON formatting, error envelopes, and logging stay
// consistent across all endpoints.
package httputil
