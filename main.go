package main

import (
	"ClubFM/cmd"
)

func main() {
	cmd.Execute()
}
