package main

import "github.com/schoolworks-dev/sbx/cmd"

func main() {
	cmd.Execute()
}
