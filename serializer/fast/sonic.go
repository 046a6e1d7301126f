//go:build amd64 && (linux || windows || darwin)

package fast

import (
	"github.com/ridge/stomp-go/serializer"
	"github.com/ridge/stomp-go/serializer/sonic"
)

// New returns the fastest serializer available on this platform.
func New() serializer.JSONSerializer {
	defaultConfig := DefaultConfig()
	return sonic.New(defaultConfig.SonicConfig)
}

func NewWithConfig(config Config) serializer.JSONSerializer {
	return sonic.New(config.SonicConfig)
}

func Type() SerializerType {
	return SerializerTypeSonic
}
