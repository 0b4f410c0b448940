package main

import "github.com/stephnangue/bastion/cmd"

func main() {
	cmd.Execute()
}
