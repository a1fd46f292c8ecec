package main

import "github.com/sunbk201/uricheck/cmd"

func main() {
	cmd.Execute()
}
