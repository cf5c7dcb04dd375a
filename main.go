package main

import "github.com/ligolabs/ligo/cmd"

func main() {
	cmd.Execute()
}
