package main

import "github.com/nsgbyvt82s-svg/trading-formation-clean/cmd"

func main() {
	cmd.Execute()
}
