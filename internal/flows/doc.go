// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunRequestCode, RunVerifyCode, RunSignIn, RunRefresh,
// etc.) accepts a typed dependency struct and returns results without
// side-effects beyond those dependencies. The Engine stays thin and flows
// are tested against plain function fakes.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the credential stores, identity store,
// notifier, password hasher, session codec, audit and metrics. They do NOT
// own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Retry collaborator calls. Retry policy belongs to the collaborator.
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
