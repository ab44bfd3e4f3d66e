// Package authcore is the account-authentication core: one-time-code
// signup, password reset by emailed token, and signed session tokens for
// local and externally asserted identities.
//
// An [Engine] is assembled once through [Builder] and is safe for
// concurrent use:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithIdentityStore(store).
//		WithNotifier(notifier).
//		Build()
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and the sentinel errors. Flow orchestration lives in internal/flows and
// short-lived credential records in internal/stores; neither is exported.
// Identities persist through any [identity.Store]; codes and reset links
// leave through any [notify.Notifier].
//
// # Failure model
//
// Every method returns one of the sentinels in errors.go, joined with the
// collaborator error when there is one, so errors.Is works for both. The
// Engine never retries. A code or reset token is consumed at most once,
// and a delivery failure never invalidates stored state.
package authcore
