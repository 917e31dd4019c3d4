package main

import "github.com/Ptrskay3/msde-cli/internal/cli"

func main() {
	cli.Execute()
}
