// Package security summarizes the security-relevant settings of an Engine
// and flags weak ones. It reads configuration only.
package security
