package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

// EventBus routes published values to every subscriber whose parameter list
// accepts them. Subscribers are plain funcs, optionally returning error.
type EventBus interface {
	Publish(args ...any)
	Subscribe(handler any)
	Unsubscribe(handler any)
	Clear()
	SubscribersCount() int
}

type EventBusWithError interface {
	EventBus
	PublishE(args ...any) error
}

var (
	ErrNoSubscribers        = serrors.NewError("EVENTBUS_NO_SUBSCRIBERS", "no matching subscribers", "")
	ErrInvalidHandlerReturn = serrors.NewError("EVENTBUS_INVALID_HANDLER_RETURN", "invalid handler return signature", "")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type bus struct {
	log      *logrus.Logger
	mu       sync.RWMutex
	handlers []any
}

func NewEventPublisher(log *logrus.Logger) EventBusWithError {
	return &bus{log: log}
}

// MatchSignature reports whether handler can be called with args.
func MatchSignature(handler any, args []any) bool {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		param := t.In(i)
		if arg == nil {
			if param.Kind() != reflect.Interface && param.Kind() != reflect.Ptr {
				return false
			}
			continue
		}
		argType := reflect.TypeOf(arg)
		if param.Kind() == reflect.Interface {
			if !argType.Implements(param) {
				return false
			}
			continue
		}
		if !argType.AssignableTo(param) {
			return false
		}
	}
	return true
}

// Publish delivers args and logs, rather than returns, handler failures.
func (b *bus) Publish(args ...any) {
	matched, errs := b.deliver(args)
	if b.log == nil {
		return
	}
	if matched == 0 {
		b.log.Warnf("eventbus.Publish: no matching subscribers for event with args: %v", args)
		return
	}
	for _, err := range errs {
		b.log.WithError(err).Error("eventbus.Publish: handler failed")
	}
}

// PublishE delivers args and joins every handler error. A panic in a handler
// is converted to an error so the outbox relay can retry.
func (b *bus) PublishE(args ...any) error {
	matched, errs := b.deliver(args)
	if matched == 0 {
		return ErrNoSubscribers
	}
	return errors.Join(errs...)
}

func (b *bus) deliver(args []any) (int, []error) {
	b.mu.RLock()
	handlers := make([]any, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(reflect.TypeOf((*any)(nil)).Elem())
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}

	matched := 0
	var errs []error
	for _, h := range handlers {
		if !MatchSignature(h, args) {
			continue
		}
		matched++
		if err := invoke(reflect.ValueOf(h), in); err != nil {
			errs = append(errs, err)
		}
	}
	return matched, errs
}

func invoke(fn reflect.Value, in []reflect.Value) (err error) {
	name := fn.Type().String()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked: %v", name, r)
		}
	}()

	out := fn.Call(in)
	switch {
	case len(out) == 0:
		return nil
	case len(out) != 1:
		return fmt.Errorf("%w: handler %s returned %d values", ErrInvalidHandlerReturn, name, len(out))
	case out[0].Type() != errorType:
		return fmt.Errorf("%w: handler %s return type is %s", ErrInvalidHandlerReturn, name, out[0].Type())
	case out[0].IsNil():
		return nil
	default:
		return out[0].Interface().(error)
	}
}

func (b *bus) Subscribe(handler any) {
	if t := reflect.TypeOf(handler); t == nil || t.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Unsubscribe removes the first subscriber with the same func pointer.
func (b *bus) Unsubscribe(handler any) {
	target := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if reflect.ValueOf(h).Pointer() == target {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

func (b *bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
}

func (b *bus) SubscribersCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
