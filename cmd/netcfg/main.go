package main

import (
	"netcfg/internal/cli"
)

func main() {
	cli.Execute()
}
