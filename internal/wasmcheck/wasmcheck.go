// Package wasmcheck confirms that a materialized file is a loadable
// WebAssembly binary before it is handed to a build.
package wasmcheck

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
)

// Kind classifies a wasm binary.
type Kind string

const (
	KindCoreModule Kind = "core-module"
	KindComponent  Kind = "component"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}

// Result describes an inspected file.
type Result struct {
	Path string
	Kind Kind
	Size int64
}

// Inspect reads path and validates it. Core modules are compiled with wazero;
// components are accepted on a valid component layer header.
func Inspect(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read wasm: %w", err)
	}
	kind, err := Classify(data)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", path, err)
	}
	if kind == KindCoreModule {
		if err := compileCore(ctx, data); err != nil {
			return Result{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	return Result{Path: path, Kind: kind, Size: int64(len(data))}, nil
}

// Classify inspects the 8-byte preamble.
func Classify(data []byte) (Kind, error) {
	if len(data) < 8 {
		return "", fmt.Errorf("too short for a wasm preamble (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:4], magic) {
		return "", fmt.Errorf("missing \\0asm magic")
	}
	version := data[4:6]
	layer := data[6:8]
	switch {
	case version[0] == 0x01 && version[1] == 0x00 && layer[0] == 0x00 && layer[1] == 0x00:
		return KindCoreModule, nil
	case layer[0] == 0x01 && layer[1] == 0x00:
		// component model binaries use layer 1 with a pre-release version
		// number, currently 0x0d
		return KindComponent, nil
	}
	return "", fmt.Errorf("unsupported wasm version %x layer %x", version, layer)
}

func compileCore(ctx context.Context, data []byte) error {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return fmt.Errorf("compile core module: %w", err)
	}
	return compiled.Close(ctx)
}
