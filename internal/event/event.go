// Package event narrows the raw Kubernetes service watch stream to the
// LoadBalancer lifecycle changes the trigger cares about.
//
// Classification never errors: anything that is not an Added/Modified/Deleted
// event for a LoadBalancer service is simply not relevant and is dropped by
// the caller without side effects.
package event

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"
)

// Kind is the lifecycle transition a service went through.
type Kind string

const (
	KindAdded    Kind = "ADDED"
	KindModified Kind = "MODIFIED"
	KindDeleted  Kind = "DELETED"
)

// ServiceChange is a classified change to a LoadBalancer service. It is
// produced by the watch subscription, consumed once, never persisted.
type ServiceChange struct {
	Kind        Kind
	Namespace   string
	Name        string
	ServiceType string
}

// Key returns the stable namespace/name identity of the service, used for
// logging and per-service cooldown tracking.
func (c ServiceChange) Key() string {
	return c.Namespace + "/" + c.Name
}

// Classify converts a raw watch event into a ServiceChange. The second return
// is false when the event is not relevant: a nil object, a non-LoadBalancer
// service, or an event kind outside Added/Modified/Deleted (Bookmark, Error).
func Classify(eventType watch.EventType, svc *corev1.Service) (ServiceChange, bool) {
	if svc == nil {
		return ServiceChange{}, false
	}
	if svc.Spec.Type != corev1.ServiceTypeLoadBalancer {
		return ServiceChange{}, false
	}

	var kind Kind
	switch eventType {
	case watch.Added:
		kind = KindAdded
	case watch.Modified:
		kind = KindModified
	case watch.Deleted:
		kind = KindDeleted
	default:
		return ServiceChange{}, false
	}

	return ServiceChange{
		Kind:        kind,
		Namespace:   svc.Namespace,
		Name:        svc.Name,
		ServiceType: string(svc.Spec.Type),
	}, true
}
