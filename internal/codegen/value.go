package codegen

import (
	"fmt"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/conneroisu/erbview/internal/view"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Truthy reports whether v counts as true in a condition. Zero values, nil
// pointers and empty collections are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case view.SafeString:
		return t != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return !rv.IsZero()
	}
	return true
}

// MemberOf reads x.name: a map key, an exported struct field (name or its
// capitalised form) or a zero-argument method.
func MemberOf(x any, name string) (any, error) {
	switch m := x.(type) {
	case nil:
		return nil, fmt.Errorf("undefined method %q for nil", name)
	case view.Locals:
		return m[name], nil
	case map[string]any:
		return m[name], nil
	}

	rv := reflect.ValueOf(x)
	if meth, ok := findMethod(rv, name); ok && meth.Type().NumIn() == 0 {
		return callReflect(meth, nil)
	}

	ind := reflect.Indirect(rv)
	switch ind.Kind() {
	case reflect.Map:
		if ind.Type().Key().Kind() == reflect.String {
			v := ind.MapIndex(reflect.ValueOf(name).Convert(ind.Type().Key()))
			if !v.IsValid() {
				return nil, nil
			}
			return v.Interface(), nil
		}
	case reflect.Struct:
		for _, n := range candidates(name) {
			if sf, ok := ind.Type().FieldByName(n); ok && sf.IsExported() {
				return ind.FieldByIndex(sf.Index).Interface(), nil
			}
		}
	}
	return nil, fmt.Errorf("undefined method %q for %T", name, x)
}

// IndexOf reads x[key] for maps, slices, arrays and strings.
func IndexOf(x any, key any) (any, error) {
	switch m := x.(type) {
	case nil:
		return nil, fmt.Errorf("cannot index nil")
	case view.Locals:
		return m[view.ToString(key)], nil
	case map[string]any:
		return m[view.ToString(key)], nil
	}

	rv := reflect.Indirect(reflect.ValueOf(x))
	switch rv.Kind() {
	case reflect.Map:
		k := reflect.ValueOf(key)
		if !k.IsValid() {
			return nil, nil
		}
		if !k.Type().AssignableTo(rv.Type().Key()) {
			if !k.Type().ConvertibleTo(rv.Type().Key()) {
				return nil, fmt.Errorf("cannot index %T with %T", x, key)
			}
			k = k.Convert(rv.Type().Key())
		}
		v := rv.MapIndex(k)
		if !v.IsValid() {
			return nil, nil
		}
		return v.Interface(), nil
	case reflect.Slice, reflect.Array, reflect.String:
		i, ok := key.(int)
		if !ok {
			return nil, fmt.Errorf("cannot index %T with %T", x, key)
		}
		if i < 0 || i >= rv.Len() {
			return nil, nil
		}
		return rv.Index(i).Interface(), nil
	}
	return nil, fmt.Errorf("cannot index %T", x)
}

// CallMethod calls recv.name(args...). Functions stored in maps are called
// as values.
func CallMethod(recv any, name string, args []any) (any, error) {
	if recv == nil {
		return nil, fmt.Errorf("undefined method %q for nil", name)
	}
	if meth, ok := findMethod(reflect.ValueOf(recv), name); ok {
		return callReflect(meth, args)
	}
	member, err := MemberOf(recv, name)
	if err != nil {
		return nil, err
	}
	return CallValue(nil, member, args)
}

// CallValue calls fn with args. HelperFunc values receive v first.
func CallValue(v view.View, fn any, args []any) (any, error) {
	switch f := fn.(type) {
	case nil:
		return nil, fmt.Errorf("cannot call nil")
	case view.HelperFunc:
		return f(v, args...)
	case func(view.View, ...any) (any, error):
		return f(v, args...)
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("cannot call %T", fn)
	}
	return callReflect(rv, args)
}

func findMethod(rv reflect.Value, name string) (reflect.Value, bool) {
	if !rv.IsValid() {
		return reflect.Value{}, false
	}
	for _, n := range candidates(name) {
		if m := rv.MethodByName(n); m.IsValid() {
			return m, true
		}
		if rv.Kind() != reflect.Pointer && rv.CanAddr() {
			if m := rv.Addr().MethodByName(n); m.IsValid() {
				return m, true
			}
		}
	}
	return reflect.Value{}, false
}

func candidates(name string) []string {
	r, size := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return []string{name}
	}
	return []string{name, string(unicode.ToUpper(r)) + name[size:]}
}

func callReflect(fn reflect.Value, args []any) (any, error) {
	ft := fn.Type()
	if ft.IsVariadic() {
		if len(args) < ft.NumIn()-1 {
			return nil, fmt.Errorf("wrong number of arguments (given %d, expected at least %d)", len(args), ft.NumIn()-1)
		}
	} else if len(args) != ft.NumIn() {
		return nil, fmt.Errorf("wrong number of arguments (given %d, expected %d)", len(args), ft.NumIn())
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= ft.NumIn()-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		av, err := convertArg(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in[i] = av
	}

	out := fn.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			if err, _ := out[0].Interface().(error); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return out[0].Interface(), nil
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("second result of %s must be error", ft)
		}
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
	return nil, fmt.Errorf("cannot call %s: too many results", ft)
}

func convertArg(a any, pt reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch pt.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", pt)
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(pt) {
		return av, nil
	}
	if av.Type().ConvertibleTo(pt) && av.Kind() != reflect.String && pt.Kind() != reflect.String {
		return av.Convert(pt), nil
	}
	if av.Kind() == reflect.String && pt.Kind() == reflect.String {
		return av.Convert(pt), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", a, pt)
}

// Equal compares two template values. Numbers compare by value across
// types; strings compare with safe strings by content.
func Equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	as, aok := toText(a)
	bs, bok := toText(b)
	if aok && bok {
		return as == bs
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

func toText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case view.SafeString:
		return string(s), true
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// Iterate calls fn for each element of coll. Slices and arrays yield
// (index, element); maps yield (key, value) in sorted key order; an int n
// yields 0..n-1. nil yields nothing.
func Iterate(coll any, fn func(k, v any) error) error {
	if coll == nil {
		return nil
	}
	rv := reflect.Indirect(reflect.ValueOf(coll))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := fn(i, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			if err := fn(k.Interface(), rv.MapIndex(k).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		for i := 0; i < int(rv.Int()); i++ {
			if err := fn(i, i); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("cannot iterate over %T", coll)
}
