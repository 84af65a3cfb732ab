// Package notifications delivers completion and failure emails through
// an SNS topic, subscribing the configured recipient on first use.
package notifications
