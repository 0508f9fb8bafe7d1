package main

import "github.com/trainstation/gatehouse/cmd/gatehouse/cmd"

func main() {
	cmd.Execute()
}
