package main

import "github.com/stratumdb/stratum/cmd/stratum/command"

func main() {
	command.Execute()
}
