package main

import "github.com/DolevBitran/dynamic-products-scraper/cmd"

func main() {
	cmd.Execute()
}
