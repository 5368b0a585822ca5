// Package event defines the vocabulary shared by every runlog component:
// runs, events, the closed type/severity/category enumerations, and the
// validation diagnostics attached to imperfect events.
//
// A Run is the sole parent scope for events. Events are write-once: there is
// no update path, and the only way an event disappears is cascade deletion of
// its run.
//
// The payload of an event is an opaque JSON object at this layer. Its shape
// depends on the event type and is checked by package schema, which is the
// single place that knows each type's required fields.
package event
