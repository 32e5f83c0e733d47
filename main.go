package main

import "annod/cmd"

func main() {
	cmd.Execute()
}
