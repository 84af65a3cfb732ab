package notifications

import "context"

type noopService struct{}

// NewNoop returns a Service that silently drops every notification.
func NewNoop() Service { return noopService{} }

func (noopService) NotifyMinutesReady(context.Context, MinutesReady) error { return nil }

func (noopService) NotifyRunFailed(context.Context, RunFailed) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
