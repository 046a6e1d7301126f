package stomp

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ridge/stomp-go/internal/sync"
	"github.com/xiegeo/coloredgoroutine"
)

type (
	Debugger interface {
		Log(main string, v ...any)
		WithContext(context string) Debugger
		WithDynamicContext(context string, dynamicContext func() string) Debugger
	}

	noopDebugger struct{}

	printDebugger struct {
		out            io.Writer
		context        string
		dynamicContext func() string
	}
)

func NewNoopDebugger() Debugger {
	return noopDebugger{}
}

func (d noopDebugger) Log(main string, _v ...any) {}

func (d noopDebugger) WithContext(context string) Debugger { return d }

func (d noopDebugger) WithDynamicContext(context string, _ func() string) Debugger { return d }

// NewPrintDebugger writes to stdout, coloring each goroutine differently.
func NewPrintDebugger() Debugger {
	return &printDebugger{out: coloredgoroutine.Colors(os.Stdout)}
}

var printMu sync.Mutex

func (d *printDebugger) Log(main string, _v ...any) {
	parts := make([]string, 0, 3+len(_v))
	if d.context != "" {
		parts = append(parts, d.context)
	}
	if d.dynamicContext != nil {
		if dc := d.dynamicContext(); dc != "" {
			parts = append(parts, dc)
		}
	}
	if main != "" {
		parts = append(parts, main)
	}
	for _, v := range _v {
		parts = append(parts, fmt.Sprint(v))
	}

	printMu.Lock()
	defer printMu.Unlock()
	fmt.Fprintln(d.out, strings.Join(parts, ": "))
}

func (d printDebugger) WithContext(context string) Debugger {
	d.context = context
	return &d
}

func (d printDebugger) WithDynamicContext(context string, dynamicContext func() string) Debugger {
	d.context = context
	d.dynamicContext = dynamicContext
	return &d
}

func truncateURL(url string) string {
	if len(url) > 50 {
		return url[:50] + "..."
	}
	return url
}
