// Package services defines the shared error taxonomy and workflow context
// plumbing used by stage handlers and external-service clients.
//
// Errors are tagged with sentinel markers (transient, validation,
// configuration, not-found, timeout, external) so that the retry policy and
// the workflow manager can classify failures without inspecting message
// text. Context helpers carry run, stage, and correlation identifiers from
// the orchestrator down into stage and client code for structured logging.
package services
