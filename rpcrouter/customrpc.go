package rpcrouter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// jsModule wraps one custom RPC module's handle(params) function. A
// single VM is reused across calls (goja.Runtime is not
// goroutine-safe), mirroring the Report-Strategy evaluator's pattern.
type jsModule struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	fn  goja.Callable
	src string
}

func loadJSModule(path string) (*jsModule, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rpcrouter: read custom RPC module %s: %w", path, err)
	}

	vm := goja.New()
	if _, err := vm.RunString(string(script)); err != nil {
		return nil, fmt.Errorf("rpcrouter: compile custom RPC module %s: %w", path, err)
	}

	fnVal := vm.Get("handle")
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, fmt.Errorf("rpcrouter: custom RPC module %s must define function handle(params)", path)
	}

	return &jsModule{vm: vm, fn: fn, src: path}, nil
}

func (m *jsModule) asLocalMethod() LocalMethod {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		result, err := m.fn(goja.Undefined(), m.vm.ToValue(params))
		if err != nil {
			return nil, fmt.Errorf("rpcrouter: custom RPC module %s: %w", m.src, err)
		}

		exported, ok := result.Export().(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("rpcrouter: custom RPC module %s must return an object", m.src)
		}
		return exported, nil
	}
}

// LoadCustomRPCDir registers one local method per ".js" file found
// directly under dir (spec §4.5's custom RPC module directory), named
// after the file's base name without extension. A missing directory is
// not an error: custom RPC modules are optional.
func LoadCustomRPCDir(r *GatewayRouter, dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rpcrouter: read custom RPC dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".js")
		mod, err := loadJSModule(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		r.RegisterLocal(name, mod.asLocalMethod())
	}
	return nil
}
