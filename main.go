package main

import (
	"github.com/automagik/omni/cmd"
)

func main() {
	cmd.Execute()
}
