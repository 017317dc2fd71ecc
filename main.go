package main

import "github.com/nilfheim/boltget/cmd"

func main() {
	cmd.Execute()
}
