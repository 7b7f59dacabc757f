// Package service wires the router, resilience controller and workflow
// engine into the event processing pipeline.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/veloraops/conductor/internal/adapter/otel"
	"github.com/veloraops/conductor/internal/audit"
	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/event"
	"github.com/veloraops/conductor/internal/domain/message"
	"github.com/veloraops/conductor/internal/engine"
	"github.com/veloraops/conductor/internal/logger"
	"github.com/veloraops/conductor/internal/port/cache"
	"github.com/veloraops/conductor/internal/port/database"
	"github.com/veloraops/conductor/internal/registry"
	"github.com/veloraops/conductor/internal/resilience"
	"github.com/veloraops/conductor/internal/router"
)

// Queue is the durable event queue follow-on events re-enter through.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(data []byte) error) (func(), error)
}

// EventStatus is the cached processing status of a submitted event.
type EventStatus struct {
	TrackingID string    `json:"tracking_id"`
	Status     string    `json:"status"`
	WorkerID   string    `json:"worker_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Event status values.
const (
	StatusAccepted  = "accepted"
	StatusRouted    = "routed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// followOnSubject is the queue subject follow-on events are published to.
const followOnSubject = "events.submitted"

// Orchestrator is the event processing pipeline: submit, route, invoke,
// apply the result to the workflow engine, and re-submit follow-on events.
type Orchestrator struct {
	router *router.Router
	ctrl   *resilience.Controller
	engine *engine.Engine
	reg    *registry.Registry
	cache  cache.Cache
	log    *audit.Log
	queue  Queue
	met    *cfotel.Metrics

	tasks chan *event.Event
	group *errgroup.Group
	stop  func()
}

// NewOrchestrator creates the pipeline. Call Start to launch the dispatch
// pool and the follow-on subscriber.
func NewOrchestrator(
	rt *router.Router,
	ctrl *resilience.Controller,
	eng *engine.Engine,
	reg *registry.Registry,
	c cache.Cache,
	log *audit.Log,
	queue Queue,
	met *cfotel.Metrics,
	cfg config.Dispatch,
) *Orchestrator {
	return &Orchestrator{
		router: rt,
		ctrl:   ctrl,
		engine: eng,
		reg:    reg,
		cache:  c,
		log:    log,
		queue:  queue,
		met:    met,
		tasks:  make(chan *event.Event, cfg.QueueDepth),
	}
}

// Start launches the dispatch worker pool and subscribes to the durable
// queue for follow-on events. It returns once the pool is running.
func (o *Orchestrator) Start(ctx context.Context, poolSize int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < poolSize; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-o.tasks:
					if !ok {
						return nil
					}
					o.process(gctx, ev)
				}
			}
		})
	}
	o.group = g

	if o.queue != nil {
		stop, err := o.queue.Subscribe(ctx, followOnSubject, func(data []byte) error {
			var ev event.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				// Poison message: drop it rather than redeliver forever.
				slog.Error("malformed queued event dropped", "error", err)
				return nil
			}
			ev.Normalize()
			o.process(ctx, &ev)
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", followOnSubject, err)
		}
		o.stop = stop
	}
	return nil
}

// Close stops the follow-on subscriber, drains the dispatch queue and
// waits for in-flight events to finish.
func (o *Orchestrator) Close() error {
	if o.stop != nil {
		o.stop()
	}
	close(o.tasks)
	if o.group != nil {
		return o.group.Wait()
	}
	return nil
}

// Submit validates and enqueues an event for asynchronous processing.
// It returns the event's tracking ID immediately; progress is observable
// through EventStatus and the audit trail.
func (o *Orchestrator) Submit(ctx context.Context, ev *event.Event) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", domain.NewError(domain.CategoryValidation, domain.SeverityError, ev.TrackingID, err)
	}
	ev.Normalize()

	if o.met != nil {
		o.met.EventsSubmitted.Add(ctx, 1)
	}
	o.setStatus(ctx, ev.TrackingID, EventStatus{Status: StatusAccepted})
	o.log.Record(ctx, audit.ComponentService, ev.TrackingID, "event_accepted",
		domain.SeverityInfo, "type "+ev.Type)

	select {
	case o.tasks <- ev:
		return ev.TrackingID, nil
	default:
		o.setStatus(ctx, ev.TrackingID, EventStatus{Status: StatusFailed, Detail: "dispatch queue full"})
		return "", domain.NewError(domain.CategorySystem, domain.SeverityError, ev.TrackingID,
			fmt.Errorf("dispatch queue full"))
	}
}

// process runs one event through route -> invoke -> apply result.
func (o *Orchestrator) process(ctx context.Context, ev *event.Event) {
	ctx = logger.WithTrackingID(ctx, ev.TrackingID)

	ctx, routeSpan := cfotel.StartRouteSpan(ctx, ev.TrackingID, ev.Type)
	decision, err := o.router.Route(ctx, ev)
	routeSpan.End()
	if err != nil {
		if o.met != nil {
			o.met.RoutesFailed.Add(ctx, 1)
		}
		o.setStatus(ctx, ev.TrackingID, EventStatus{Status: StatusFailed, Detail: "no route"})
		o.log.Record(ctx, audit.ComponentRouter, ev.TrackingID, "no_route",
			domain.SeverityError, "type "+ev.Type)
		return
	}

	if o.met != nil {
		o.met.EventsRouted.Add(ctx, 1)
	}
	o.setStatus(ctx, ev.TrackingID, EventStatus{Status: StatusRouted, WorkerID: decision.WorkerID})
	o.log.Record(ctx, audit.ComponentRouter, ev.TrackingID, "routed",
		domain.SeverityInfo, fmt.Sprintf("worker %s strategy %s", decision.WorkerID, decision.Strategy))

	ctx, invokeSpan := cfotel.StartInvokeSpan(ctx, ev.TrackingID, decision.WorkerID)
	start := time.Now()
	result, err := o.ctrl.Invoke(ctx, decision.WorkerID, ev, decision.Chain)
	if o.met != nil {
		o.met.InvokeDuration.Record(ctx, time.Since(start).Seconds())
	}
	invokeSpan.End()
	if err != nil {
		if o.met != nil {
			o.met.InvocationsFailed.Add(ctx, 1)
		}
		o.setStatus(ctx, ev.TrackingID, EventStatus{Status: StatusFailed, Detail: err.Error()})
		return
	}

	// A fallback worker that served this type becomes its direct route.
	if result.AgentID != "" && result.AgentID != decision.WorkerID {
		o.router.Learn(ev.Type, result.AgentID)
	}

	o.applyResult(ctx, ev, result)
	o.setStatus(ctx, ev.TrackingID, EventStatus{Status: StatusCompleted, WorkerID: result.AgentID})
}

// applyResult feeds a worker result back into the workflow engine and
// re-submits any follow-on events through the durable queue.
func (o *Orchestrator) applyResult(ctx context.Context, ev *event.Event, result *message.Result) {
	if result.InstanceID != "" && result.Transition != "" {
		trCtx, span := cfotel.StartTransitionSpan(ctx, result.InstanceID, result.Transition)
		_, err := o.engine.Transition(trCtx, engine.TransitionRequest{
			InstanceID: result.InstanceID,
			Transition: result.Transition,
			AgentID:    result.AgentID,
			TrackingID: ev.TrackingID,
			Data:       result.Data,
		})
		span.End()
		if err != nil {
			o.log.Record(ctx, audit.ComponentService, ev.TrackingID, "result_transition_failed",
				domain.SeverityError, fmt.Sprintf("instance %s transition %s: %v",
					result.InstanceID, result.Transition, err))
		} else if o.met != nil {
			o.met.TransitionsApplied.Add(ctx, 1)
		}
	}

	for _, fo := range result.FollowOn {
		next := &event.Event{
			Type:             fo.EventType,
			TrackingID:       ev.TrackingID, // inherited for end-to-end tracing
			BusinessEntityID: fo.BusinessEntityID,
			Priority:         ev.Priority,
			Data:             fo.Data,
			Context:          ev.Context,
		}
		next.Normalize()
		if err := next.Validate(); err != nil {
			o.log.Record(ctx, audit.ComponentService, ev.TrackingID, "follow_on_rejected",
				domain.SeverityWarning, err.Error())
			continue
		}

		data, err := json.Marshal(next)
		if err != nil {
			slog.Error("follow-on marshal failed", "tracking_id", ev.TrackingID, "error", err)
			continue
		}
		if o.queue == nil {
			// No durable queue: process inline rather than drop.
			o.process(ctx, next)
			continue
		}
		if err := o.queue.Publish(ctx, followOnSubject, data); err != nil {
			o.log.Record(ctx, audit.ComponentService, ev.TrackingID, "follow_on_publish_failed",
				domain.SeverityError, err.Error())
		}
	}
}

// EventStatus returns the cached processing status for a tracking ID.
func (o *Orchestrator) EventStatus(ctx context.Context, trackingID string) (*EventStatus, error) {
	data, ok, err := o.cache.Get(ctx, cache.EventStatusKey(trackingID))
	if err != nil {
		return nil, fmt.Errorf("event status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("event %s: %w", trackingID, domain.ErrNotFound)
	}
	var st EventStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("event status decode: %w", err)
	}
	return &st, nil
}

// Workers returns an observable snapshot of every registered worker.
func (o *Orchestrator) Workers() []registry.Status {
	return o.reg.Snapshot()
}

// AuditTrail returns the audit records for a tracking ID.
func (o *Orchestrator) AuditTrail(ctx context.Context, trackingID string) ([]database.AuditRecord, error) {
	return o.log.Trail(ctx, trackingID)
}

func (o *Orchestrator) setStatus(ctx context.Context, trackingID string, st EventStatus) {
	st.TrackingID = trackingID
	st.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, cache.EventStatusKey(trackingID), data, cache.TierL2); err != nil {
		slog.Debug("event status cache write failed", "tracking_id", trackingID, "error", err)
	}
}
