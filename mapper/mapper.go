// Package mapper converts values to and from JSON without failing loudly.
package mapper

import (
	"github.com/mitchellh/mapstructure"

	"github.com/ridge/stomp-go/internal/sync"
	"github.com/ridge/stomp-go/serializer"
	"github.com/ridge/stomp-go/serializer/stdjson"
)

var (
	json   serializer.JSONSerializer = stdjson.New()
	jsonMu sync.RWMutex
)

// SetSerializer replaces the serializer used by the package. Default: stdjson
func SetSerializer(s serializer.JSONSerializer) {
	jsonMu.Lock()
	defer jsonMu.Unlock()
	json = s
}

func getSerializer() serializer.JSONSerializer {
	jsonMu.RLock()
	defer jsonMu.RUnlock()
	return json
}

// ToJSONString returns the JSON encoding of v, or an empty string if v cannot be encoded.
func ToJSONString(v any) string {
	data, err := getSerializer().Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Convert decodes s into T. ok is false and v is the zero value if s is not valid for T.
func Convert[T any](s string) (v T, ok bool) {
	err := getSerializer().Unmarshal([]byte(s), &v)
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// ConvertValue re-types a generic value, such as a map decoded from JSON,
// into T. Field names are taken from the json tags.
func ConvertValue[T any](v any) (result T, err error) {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &result,
	})
	if err != nil {
		return
	}
	err = d.Decode(v)
	return
}
