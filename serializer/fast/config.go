package fast

import (
	"github.com/bytedance/sonic"
	"github.com/goccy/go-json"
)

type SerializerType int

const (
	SerializerTypeSonic SerializerType = iota
	SerializerTypeGoJSON
)

type Config struct {
	SonicConfig sonic.Config
	GoJSON      GoJSONConfig
}

type GoJSONConfig struct {
	EncodeOptions []json.EncodeOptionFunc
	DecodeOptions []json.DecodeOptionFunc
}

func DefaultConfig() Config {
	return Config{
		SonicConfig: sonic.Config{
			// Decoded values outlive the frame buffer they came from.
			CopyString: true,
			// Outbound SEND bodies go over the wire as is.
			CompactMarshaler: true,
			EscapeHTML:       true,
			SortMapKeys:      false,
			// Mirrors encoding/json: unknown fields are ignored,
			// numbers in interface{} values become float64.
			UseInt64:  false,
			UseNumber: false,
		},
		GoJSON: GoJSONConfig{
			EncodeOptions: []json.EncodeOptionFunc{
				json.UnorderedMap(),
			},
		},
	}
}
