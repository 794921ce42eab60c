package main

import "github.com/rollcall/rollcall/cmd"

func main() {
	cmd.Execute()
}
