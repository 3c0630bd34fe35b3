// Package coordinator implements the task coordination engine: a worker
// registration table, a priority task queue with a background assignment
// loop, capability and performance based worker selection, rule-driven and
// explicit task handoff, and an idle-worker health monitor.
//
// A Coordinator is constructed explicitly with [New] and holds no global
// state. Workers implement the [Worker] interface and are registered with
// [Coordinator.RegisterWorker]; tasks enter through
// [Coordinator.SubmitTask] and are pushed to workers by the assignment
// loop, which wakes on worker availability changes and on a periodic tick.
//
// Handoff comes in two forms. A worker that determines mid-task that
// another worker is better suited calls [Coordinator.RequestHandoff];
// declarative rules registered through [Coordinator.AddHandoffRule] are
// evaluated at assignment time and can redirect a task before it is
// dispatched. Both paths trim the conversational context to a bounded
// window and record a HandoffEvent on the task.
package coordinator
