//go:build !linux

package systemd

import "context"

type Bus struct{}

func Dial(context.Context) (*Bus, error) { return nil, ErrUnsupported }

func (b *Bus) Close() error { return nil }

func (b *Bus) Run(context.Context, Action, string) (string, error) {
	return "", ErrUnsupported
}
