// Package workflow orchestrates pipeline runs through their stages. The
// manager owns a single processing loop that picks the oldest actionable
// run, drives its current stage to completion, and persists every
// transition so a daemon restart resumes in-flight work instead of
// redoing it.
package workflow
