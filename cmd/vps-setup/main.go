package main

import "github.com/tetrixdev/vps-setup/cmd/vps-setup/cmd"

func main() {
	cmd.Execute()
}
