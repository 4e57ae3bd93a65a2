package main

import "github.com/flowboard/hub/internal/cli"

func main() {
	cli.Main()
}
