package main

import "github.com/cretz/teleworker/cmd"

func main() {
	cmd.Execute()
}
