package main

import "wasmtoolchain/internal/cli"

func main() {
	cli.Execute()
}
