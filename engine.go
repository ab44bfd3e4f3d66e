package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/codicle/authcore/identity"
	"github.com/codicle/authcore/internal/audit"
	internalflows "github.com/codicle/authcore/internal/flows"
	"github.com/codicle/authcore/internal/stores"
	"github.com/codicle/authcore/notify"
	"github.com/codicle/authcore/password"
	"github.com/codicle/authcore/session"
)

// Engine runs the signup, password reset and session flows against its
// collaborators. It holds no per-user state; all of it lives in the
// credential stores and the identity store.
//
// Engine methods are safe for concurrent use.
type Engine struct {
	config       Config
	identities   identity.Store
	notifier     notify.Notifier
	codes        *stores.OTPStore
	resetTokens  *stores.ResetTokenStore
	passwordHash *password.Hasher
	sessions     *session.Codec
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger

	flows internalflows.Deps
}

// Close flushes pending audit events and stops the dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Shutdown is Close bounded by ctx. Events still queued when ctx ends are
// delivered in the background and ctx.Err() is returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.audit.Shutdown(ctx)
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType splits AuditDropped by audit event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot copies the Engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Identity returns the stored identity with the given id.
func (e *Engine) Identity(ctx context.Context, id string) (identity.Identity, error) {
	if e == nil || e.identities == nil {
		return identity.Identity{}, ErrEngineNotReady
	}
	if strings.TrimSpace(id) == "" {
		return identity.Identity{}, ErrMissingFields
	}
	rec, err := e.identities.FindByID(ctx, id)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.Identity{}, ErrUserNotFound
	}
	if err != nil {
		return identity.Identity{}, errors.Join(ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) hashPassword(pw string) (string, error) {
	start := time.Now()
	hash, err := e.passwordHash.Hash(pw)
	if e.metrics != nil {
		e.metrics.Observe(MetricHashLatency, time.Since(start))
	}
	return hash, err
}

func (e *Engine) metricIncFlow(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) send(ctx context.Context, msg notify.Message) error {
	return e.notifier.Send(ctx, msg)
}
