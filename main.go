package main

import "notifyq/cmd"

func main() {
	cmd.Run()
}
