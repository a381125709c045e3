package main

import "github.com/polychat-dev/polychat/cmd"

func main() {
	cmd.Execute()
}
