package main

import "github.com/edgeloop/itemd/cmd/itemd"

func main() {
	itemd.Main()
}
