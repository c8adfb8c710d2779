package main

import "github.com/user/hostsweep/cmd"

func main() {
	cmd.Execute()
}
