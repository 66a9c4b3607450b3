package main

import "github.com/ramiqadoumi/go-media-flow/services/api/cli"

func main() {
	cli.Execute()
}
