package main

import "github.com/endorses/packhound/cmd"

func main() {
	cmd.Execute()
}
