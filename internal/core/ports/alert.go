package ports

import "context"

// Light triggers the goal light automation.
type Light interface {
	Activate(ctx context.Context, message string) error
}

// Speaker plays sound files served by the listener, in order.
type Speaker interface {
	Play(ctx context.Context, paths ...string) error
}
