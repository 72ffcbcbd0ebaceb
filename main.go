package main

import "swallow/cmd"

func main() {
	cmd.Execute()
}
