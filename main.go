package main

import "github.com/furisto/dispatch/frontend/cli/cmd"

func main() {
	cmd.Execute()
}
