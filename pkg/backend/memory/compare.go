package memory

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Value classes in ascending sort order. Values of different classes never
// compare equal and range conditions only match within one class.
const (
	classNull = iota
	classBool
	classNumber
	classTime
	classString
	classBytes
	classArray
	classMap
	classOther
)

func classOf(v any) int {
	switch v.(type) {
	case nil:
		return classNull
	case bool:
		return classBool
	case time.Time, *time.Time:
		return classTime
	case string:
		return classString
	case []byte:
		return classBytes
	case map[string]any:
		return classMap
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return classNumber
	case reflect.Slice, reflect.Array:
		return classArray
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return classMap
		}
	case reflect.String:
		return classString
	case reflect.Bool:
		return classBool
	}
	return classOther
}

// Compare orders two stored values: by class first, then within the class.
func Compare(a, b any) int {
	ca, cb := classOf(a), classOf(b)
	if ca != cb {
		return cmpInt(ca, cb)
	}
	switch ca {
	case classNull:
		return 0
	case classBool:
		return cmpBool(reflect.ValueOf(a).Bool(), reflect.ValueOf(b).Bool())
	case classNumber:
		return cmpFloat(toFloat(a), toFloat(b))
	case classTime:
		return toTime(a).Compare(toTime(b))
	case classString:
		return strings.Compare(reflect.ValueOf(a).String(), reflect.ValueOf(b).String())
	case classBytes:
		return bytes.Compare(a.([]byte), b.([]byte))
	case classArray:
		return cmpArray(reflect.ValueOf(a), reflect.ValueOf(b))
	case classMap:
		return cmpMap(reflect.ValueOf(a), reflect.ValueOf(b))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Equal reports whether two stored values are equal; 1 and 1.0 are.
func Equal(a, b any) bool {
	return classOf(a) == classOf(b) && Compare(a, b) == 0
}

func toFloat(v any) float64 {
	if f, err := cast.ToFloat64E(v); err == nil {
		return f
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int())
	case rv.CanUint():
		return float64(rv.Uint())
	case rv.CanFloat():
		return rv.Float()
	}
	return math.NaN()
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	}
	return time.Time{}
}

// NaN sorts before every other number.
func cmpFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func cmpArray(a, b reflect.Value) int {
	n := min(a.Len(), b.Len())
	for i := 0; i < n; i++ {
		if c := Compare(a.Index(i).Interface(), b.Index(i).Interface()); c != 0 {
			return c
		}
	}
	return cmpInt(a.Len(), b.Len())
}

func cmpMap(a, b reflect.Value) int {
	ak, av := mapEntries(a)
	bk, bv := mapEntries(b)
	n := min(len(ak), len(bk))
	for i := 0; i < n; i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(av[ak[i]], bv[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ak), len(bk))
}

func mapEntries(m reflect.Value) ([]string, map[string]any) {
	keys := make([]string, 0, m.Len())
	entries := make(map[string]any, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		keys = append(keys, k)
		entries[k] = iter.Value().Interface()
	}
	sort.Strings(keys)
	return keys, entries
}

// arrayContains reports whether arr is a list holding an element equal to v.
func arrayContains(arr any, v any) bool {
	if classOf(arr) != classArray {
		return false
	}
	rv := reflect.ValueOf(arr)
	for i := 0; i < rv.Len(); i++ {
		if Equal(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}
