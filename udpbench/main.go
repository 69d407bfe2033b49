package main

import "udpbench/cmd"

func main() {
	cmd.Execute()
}
