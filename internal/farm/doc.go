// Package farm defines the domain model shared by the run-orchestration
// components and the contract they consume from a remote device farm.
//
// The remote service is treated as an opaque collaborator. Components depend
// on the [Service] interface only; internal/devicefarm adapts it to AWS Device
// Farm and farmtest provides a scripted in-memory implementation for tests.
//
// # Lifecycle
//
//	pool verified -> artifacts uploaded -> run scheduled -> run terminal
//	              -> result tree fetched -> download tasks planned
//
// An [UploadHandle] must reach [UploadSucceeded] before its reference is used
// to schedule a run, and a [RunHandle] is only handed to result collection
// once its status is terminal (see [RunStatus.Terminal]).
package farm
