package stomp

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/fatih/structs"
	"github.com/ridge/stomp-go/frame"
	"github.com/ridge/stomp-go/internal/sync"
)

// ConnectHeaders holds the extra headers sent with every CONNECT frame,
// typically login and passcode.
//
// The value is either a struct, whose fields are named by their `stomp` tag,
// or a map with string keys.
type ConnectHeaders struct {
	mu   sync.Mutex
	data any
}

func newConnectHeaders() *ConnectHeaders {
	return new(ConnectHeaders)
}

func (h *ConnectHeaders) Set(data any) error {
	if data != nil {
		rt := reflect.TypeOf(data)
		k := rt.Kind()

		if k == reflect.Ptr {
			rt = rt.Elem()
			k = rt.Kind()
		}

		switch {
		case k == reflect.Struct:
		case k == reflect.Map && rt.Key().Kind() == reflect.String:
		default:
			return ErrInvalidConnectHeaders
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = data
	return nil
}

func (h *ConnectHeaders) Get() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// header flattens the value into header fields, sorted by key.
func (h *ConnectHeaders) header() frame.Header {
	data := h.Get()
	if data == nil {
		return nil
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	m := make(map[string]string)
	switch rv.Kind() {
	case reflect.Struct:
		s := structs.New(rv.Interface())
		s.TagName = "stomp"
		for k, v := range s.Map() {
			m[k] = fmt.Sprint(v)
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = fmt.Sprint(iter.Value().Interface())
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := make(frame.Header, 0, len(keys))
	for _, k := range keys {
		header.Add(k, m[k])
	}
	return header
}
