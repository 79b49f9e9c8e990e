package main

import (
	_ "github.com/telegate/gwcore/connectors/demo"

	"github.com/telegate/gwcore/cmd/gwcore/cmd"
)

func main() {
	if err := cmd.CMD.Execute(); err != nil {
		panic(err)
	}
}
