package main

import "github.com/example/mammo-check/cmd"

func main() {
	cmd.Execute()
}
