package main

import "mmrag/internal/cli"

func main() {
	cli.Execute()
}
