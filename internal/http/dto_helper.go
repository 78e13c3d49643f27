package httpapp

import (
	"reflect"
	"strings"
)

// ToUpdates flattens a pointer-field request DTO into the column map used
// for partial updates. Nil pointers are skipped, as are empty strings, so a
// field can be changed but not cleared. The json tag names the column.
func ToUpdates(dtoVal interface{}) map[string]interface{} {
	updates := make(map[string]interface{})
	val := reflect.ValueOf(dtoVal)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)

		if fieldVal.Kind() != reflect.Ptr || fieldVal.IsNil() {
			continue
		}

		col, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if col == "" || col == "-" {
			continue
		}

		actual := fieldVal.Elem().Interface()
		if s, ok := actual.(string); ok && s == "" {
			continue
		}
		updates[col] = actual
	}
	return updates
}
