package notify

import (
	"context"

	"github.com/gen2brain/beeep"
)

// Desktop shows an OS toast
type Desktop struct {
	icon   string
	notify func(title, message, icon string) error
}

func NewDesktop(icon string) *Desktop {
	return &Desktop{icon: icon, notify: beeep.Notify}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Send(ctx context.Context, n Notification) error {
	done := make(chan error, 1)
	go func() {
		done <- d.notify(n.Title, n.Body, d.icon)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
