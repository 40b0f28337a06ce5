package main

import "github.com/nimora/nimora/cmd"

func main() {
	cmd.Execute()
}
