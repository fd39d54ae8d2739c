package main

import "github.com/vietddude/lendwatch/internal/cli"

func main() {
	cli.Execute()
}
