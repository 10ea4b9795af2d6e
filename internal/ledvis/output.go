package ledvis

import (
	"sync"

	"libdb.so/adaglow/internal/led"
)

type baseOutput struct {
	mu     sync.Mutex
	colors led.ZoneColors
}

func (o *baseOutput) AcquireFrame(f func(led.ZoneColors)) {
	o.mu.Lock()
	f(o.colors)
	o.mu.Unlock()
}
