package stomp

import (
	"reflect"

	"github.com/ridge/stomp-go/serializer"
)

var bytesType = reflect.TypeOf([]byte(nil))

// decodePayload turns a MESSAGE body into a value of type t.
// A nil type, []byte and string kinds get the body as is.
func decodePayload(json serializer.JSONSerializer, t reflect.Type, body []byte) (any, error) {
	switch {
	case t == nil || t == bytesType:
		return body, nil
	case t.Kind() == reflect.String:
		return reflect.ValueOf(string(body)).Convert(t).Interface(), nil
	}

	v := reflect.New(t)
	err := json.Unmarshal(body, v.Interface())
	if err != nil {
		return nil, err
	}
	return v.Elem().Interface(), nil
}
