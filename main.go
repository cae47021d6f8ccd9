package main

import (
	"github.com/alexanderwatt/corecache/cmd"
)

func main() {
	cmd.Execute()
}
