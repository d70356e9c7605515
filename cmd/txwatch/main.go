package main

import "github.com/vietddude/txwatch/internal/cli"

func main() {
	cli.Execute()
}
