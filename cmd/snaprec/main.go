package main

import "github.com/MeKo-Tech/snaprec/cmd/snaprec/cmd"

func main() {
	cmd.Execute()
}
