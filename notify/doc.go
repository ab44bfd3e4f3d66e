// Package notify renders and delivers the emails issued by the signup and
// password reset flows.
//
// Delivery is best-effort from the flows' point of view: a failed Send is
// reported once and never retried by the caller. Redelivery, when wanted,
// is configured here by wrapping a Notifier in [Retrying].
package notify
