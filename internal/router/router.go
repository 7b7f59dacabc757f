package router

import (
	"context"
	"errors"
	"log/slog"

	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/event"
	"github.com/veloraops/conductor/internal/registry"
)

// Classifier is the pluggable delegated-fallback strategy: an external
// collaborator (typically model-driven) that returns a best-guess worker
// for an event no static strategy could place.
type Classifier interface {
	Classify(ctx context.Context, ev *event.Event) (workerID string, err error)
}

// NopClassifier is the default Classifier; it never classifies.
type NopClassifier struct{}

// Classify always reports no route.
func (NopClassifier) Classify(context.Context, *event.Event) (string, error) {
	return "", domain.ErrNoRoute
}

// Strategy names recorded on routing decisions.
const (
	StrategyDirect     = "direct"
	StrategyPattern    = "pattern"
	StrategyCapability = "capability"
	StrategyEntity     = "business_entity"
	StrategyDelegated  = "delegated"
)

// Decision is the outcome of routing one event.
type Decision struct {
	WorkerID string   `json:"worker_id"`
	Chain    []string `json:"fallback_chain,omitempty"`
	Strategy string   `json:"strategy"`
}

// Router maps events to workers. Safe for concurrent use.
type Router struct {
	rules      *ruleTable
	reg        *registry.Registry
	classifier Classifier
}

// New builds a Router seeded from static configuration rules.
func New(cfg config.Router, reg *registry.Registry, classifier Classifier) *Router {
	direct := make(map[string]string)
	domains := make(map[string]string)
	for _, rule := range cfg.Rules {
		switch {
		case rule.EventType != "":
			direct[rule.EventType] = rule.Worker
		case rule.Domain != "":
			domains[rule.Domain] = rule.Worker
		}
	}
	if classifier == nil {
		classifier = NopClassifier{}
	}
	return &Router{
		rules:      newRuleTable(direct, domains),
		reg:        reg,
		classifier: classifier,
	}
}

// Route resolves the target worker and its fallback chain for ev.
// Strategies are tried in order; the first success wins. Pattern and
// delegated hits are learned into the direct table for future O(1)
// lookups.
func (r *Router) Route(ctx context.Context, ev *event.Event) (Decision, error) {
	if workerID, ok := r.rules.lookupDirect(ev.Type); ok {
		return r.decided(workerID, StrategyDirect), nil
	}

	for _, token := range ev.DomainTokens() {
		if workerID, ok := r.rules.lookupDomain(token); ok {
			r.rules.learn(ev.Type, workerID)
			return r.decided(workerID, StrategyPattern), nil
		}
	}

	if ev.RequiredCapability != "" {
		if ids := r.reg.ByCapability(ev.RequiredCapability); len(ids) > 0 {
			return r.decided(ids[0], StrategyCapability), nil
		}
	}

	if ev.BusinessEntityID != "" {
		if ids := r.reg.ByEntity(ev.BusinessEntityID); len(ids) > 0 {
			return r.decided(ids[0], StrategyEntity), nil
		}
	}

	workerID, err := r.classifier.Classify(ctx, ev)
	if err == nil && workerID != "" {
		if _, known := r.reg.Get(workerID); known {
			r.rules.learn(ev.Type, workerID)
			slog.Debug("learned delegated mapping", "event_type", ev.Type, "worker", workerID)
			return r.decided(workerID, StrategyDelegated), nil
		}
	}
	if err != nil && !errors.Is(err, domain.ErrNoRoute) {
		slog.Warn("delegated classifier failed", "event_type", ev.Type, "error", err)
	}

	return Decision{}, domain.NewError(
		domain.CategoryBusiness, domain.SeverityError, ev.TrackingID, domain.ErrNoRoute)
}

// Learn records an externally confirmed mapping, e.g. after a fallback
// worker successfully handled an event type.
func (r *Router) Learn(eventType, workerID string) {
	r.rules.learn(eventType, workerID)
}

func (r *Router) decided(workerID, strategy string) Decision {
	return Decision{
		WorkerID: workerID,
		Chain:    r.reg.Fallbacks(workerID),
		Strategy: strategy,
	}
}
