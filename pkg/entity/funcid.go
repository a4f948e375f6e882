package entity

import "reflect"

// sameFunc compares two Listener values by their underlying code pointer.
// Go function values are not comparable with ==; reflect is the idiomatic
// escape hatch for "is this the same registered callback".
func sameFunc(a, b Listener) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
