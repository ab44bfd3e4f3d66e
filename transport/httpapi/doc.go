// Package httpapi exposes the Engine over HTTP with a chi router.
//
// Bodies are JSON in both directions. Every response is wrapped in an
// envelope carrying the request id; errors carry a stable code and a
// public message, never the text of a collaborator error.
package httpapi
