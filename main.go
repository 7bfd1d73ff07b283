package main

import (
	_ "time/tzdata"

	"github.com/jmehdipour/clinic-recall/cmd"
)

func main() {
	cmd.Execute()
}
