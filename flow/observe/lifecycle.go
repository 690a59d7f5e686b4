package observe

import (
	"github.com/lguimbarda/reactive-flow/flow/core"
)

// Notification represents a materialized stream signal, so downstream
// stages can treat elements and termination uniformly.
type Notification[T any] struct {
	Kind  NotificationKind
	Value T
	Error error
}

// NotificationKind indicates the type of notification.
type NotificationKind int

const (
	NotificationValue NotificationKind = iota
	NotificationError
	NotificationComplete
)

// MaterializeNotification creates a Flow turning every element into a value
// notification and the termination of upstream into a final error or
// complete notification. The stage itself always completes.
func MaterializeNotification[T any]() core.Flow[T, Notification[T], core.NotUsed] {
	return core.FlowStage("materializeNotification", func(_ core.Attributes, in core.Inlet[T], out core.Outlet[Notification[T]]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				core.Push(l, out, Notification[T]{Kind: NotificationValue, Value: core.Grab(l, in)})
			},
			OnUpstreamFinish: func() {
				core.Emit(l, out, Notification[T]{Kind: NotificationComplete})
				l.CompleteStage()
			},
			OnUpstreamFailure: func(err error) {
				core.Emit(l, out, Notification[T]{Kind: NotificationError, Error: err})
				l.CompleteStage()
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}

// DematerializeNotification creates a Flow replaying notifications as
// signals: values are pushed, an error notification fails the stage and a
// complete notification completes it.
func DematerializeNotification[T any]() core.Flow[Notification[T], T, core.NotUsed] {
	return core.FlowStage("dematerializeNotification", func(_ core.Attributes, in core.Inlet[Notification[T]], out core.Outlet[T]) *core.Logic {
		l := core.NewFlowLogic(in, out)
		l.SetHandlers(in, out, core.InHandler{
			OnPush: func() {
				n := core.Grab(l, in)
				switch n.Kind {
				case NotificationValue:
					core.Push(l, out, n.Value)
				case NotificationError:
					l.FailStage(n.Error)
				case NotificationComplete:
					l.CompleteStage()
				}
			},
		}, core.PullOnDemand(l, in))
		return l
	})
}
