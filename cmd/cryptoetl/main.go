package main

import "crypto-etl/internal/cli"

func main() {
	cli.Execute()
}
