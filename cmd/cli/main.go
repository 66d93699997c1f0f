package main

import (
	"github.com/vanities/hytale-server-manager-sub001/internal/cli/cmd"
)

func main() {
	cmd.Execute()
}
