package main

import "github.com/bryanchriswhite/PlanarView/cmd/planarview/commands"

func main() {
	commands.Execute()
}
