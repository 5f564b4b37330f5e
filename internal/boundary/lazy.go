package boundary

import (
	"context"
	"sync"

	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

// lazyBackend builds the real backend on first use so that loading the
// library never touches the host. A build failure is remembered and
// returned by every call.
type lazyBackend struct {
	build func() (lifecycle.Backend, error)

	once    sync.Once
	backend lifecycle.Backend
	err     error
}

func newLazyBackend(build func() (lifecycle.Backend, error)) *lazyBackend {
	return &lazyBackend{build: build}
}

func (l *lazyBackend) get() (lifecycle.Backend, error) {
	l.once.Do(func() {
		l.backend, l.err = l.build()
	})
	return l.backend, l.err
}

func (l *lazyBackend) Create(ctx context.Context, cfg lifecycle.Config) (lifecycle.Handle, error) {
	b, err := l.get()
	if err != nil {
		return "", err
	}
	return b.Create(ctx, cfg)
}

func (l *lazyBackend) Stop(ctx context.Context, h lifecycle.Handle) error {
	b, err := l.get()
	if err != nil {
		return err
	}
	return b.Stop(ctx, h)
}

func (l *lazyBackend) Destroy(ctx context.Context, h lifecycle.Handle) error {
	b, err := l.get()
	if err != nil {
		return err
	}
	return b.Destroy(ctx, h)
}
