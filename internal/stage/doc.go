// Package stage defines the handler contract pipeline stages implement
// and small helpers shared across stage packages.
package stage
