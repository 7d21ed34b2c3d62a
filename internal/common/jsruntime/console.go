package jsruntime

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func bindConsole(ctx context.Context, vm *goja.Runtime, module string) {
	logger := log.Ctx(ctx).With().Str("module", module).Logger()
	console := vm.NewObject()
	bind := func(name string, level zerolog.Level) {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprintf("%v", arg.Export())
			}
			logger.WithLevel(level).Msg(strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	bind("log", zerolog.InfoLevel)
	bind("info", zerolog.InfoLevel)
	bind("debug", zerolog.DebugLevel)
	bind("warn", zerolog.WarnLevel)
	bind("error", zerolog.ErrorLevel)
	_ = vm.Set("console", console)
}
