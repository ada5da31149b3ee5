package main

import "github.com/loreguard/loreguard/internal/cli"

func main() {
	cli.Execute()
}
