package main

import "github.com/nfrund/chaats/cmd/chaats/cmd"

func main() {
	cmd.Execute()
}
