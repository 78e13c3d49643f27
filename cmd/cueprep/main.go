package main

import "github.com/cueprep/cueprep/internal/cli"

func main() {
	cli.Execute()
}
