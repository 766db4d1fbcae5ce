package di

import (
	"fmt"
	"reflect"
)

// Invoke calls fn, supplying leading positional arguments verbatim (used by
// the Dispatcher to pass the Context as the handler's first parameter) and
// resolving every remaining parameter from the container by its declared
// type — list-of-T parameters receive every matching registration.
//
// fn may return (), (T), (error), or (T, error). Invoke is agnostic to
// whether fn performs blocking I/O internally: Go's scheduler multiplexes
// blocking goroutines onto OS threads, so there is no separate "suspend and
// await" path to model here (see SPEC_FULL.md §5) — a handler that blocks on
// a socket read behaves identically to one that returns immediately, from
// Invoke's perspective.
func Invoke(c *Container, fn any, positional ...any) (any, error) {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("di: Invoke: target is not a function")
	}

	args := make([]reflect.Value, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		paramType := fnType.In(i)

		if i < len(positional) {
			pv := reflect.ValueOf(positional[i])
			if pv.IsValid() && pv.Type().AssignableTo(paramType) {
				args[i] = pv
				continue
			}
		}

		if paramType.Kind() == reflect.Slice {
			vals, err := c.resolveAllRaw(paramType.Elem())
			if err != nil {
				return nil, err
			}
			slice := reflect.MakeSlice(paramType, len(vals), len(vals))
			for j, v := range vals {
				slice.Index(j).Set(reflect.ValueOf(v))
			}
			args[i] = slice
			continue
		}

		v, err := c.resolveRaw(paramType, nil)
		if err != nil {
			return nil, err
		}
		args[i] = reflect.ValueOf(v)
	}

	results := fnVal.Call(args)
	return splitResults(fnType, results)
}

func splitResults(fnType reflect.Type, results []reflect.Value) (any, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		if fnType.Out(0).Implements(errType) {
			if results[0].IsNil() {
				return nil, nil
			}
			return nil, results[0].Interface().(error)
		}
		return results[0].Interface(), nil
	default:
		last := results[len(results)-1]
		var retErr error
		if fnType.Out(len(results)-1).Implements(errType) && !last.IsNil() {
			retErr = last.Interface().(error)
		}
		return results[0].Interface(), retErr
	}
}
