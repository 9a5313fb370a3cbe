package main

import "github.com/skeinlabs/skein/cmd"

func main() {
	cmd.Execute()
}
