// Package event provides the synchronous pub-sub bus the hub uses to announce
// state changes.
//
// Modules never call each other. When one needs to react to another (the
// telemetry publisher forwarding deterrence changes, the status writer noting
// a module self-stop) it subscribes to the hub's bus instead.
//
// # Main Types
//
//   - [Event]: EventType() and Timestamp()
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Types
//
//   - module.state_changed: [ModuleStateChangedEvent]
//   - deterrence.changed: [DeterrenceChangedEvent]
//   - decision.transition: [DecisionTransitionEvent]
//   - error.reported: [ErrorReportedEvent]
//   - config.reloaded: [ConfigReloadedEvent]
//   - archive.recorded: [EventArchivedEvent]
//   - lora.received: [RadioReceivedEvent]
//
// # Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	id, _ := bus.Subscribe("module.*", func(e event.Event) {
//	    changed := e.(event.ModuleStateChangedEvent)
//	    logger.Info("module transition", "module", changed.Module, "to", changed.To)
//	})
//	defer bus.Unsubscribe(id)
//
// Handlers run on the publisher's goroutine. A handler that needs to do I/O
// should hand the event to a queue and return.
package event
