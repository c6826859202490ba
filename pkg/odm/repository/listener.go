package repository

import "sync"

// Listener receives snapshot updates. OnError and OnComplete are optional.
type Listener[V any] struct {
	OnNext     func(V)
	OnError    func(error)
	OnComplete func()
}

func (l Listener[V]) Next(v V) {
	if l.OnNext != nil {
		l.OnNext(v)
	}
}

func (l Listener[V]) Error(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}

func (l Listener[V]) Complete() {
	if l.OnComplete != nil {
		l.OnComplete()
	}
}

// Once wraps fn so that only the first call runs it.
func Once(fn func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			if fn != nil {
				fn()
			}
		})
	}
}

// Noop is returned when a subscription could not be established.
func Noop() {}
