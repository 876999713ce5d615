package main

import "github.com/guildkv/guildkv/cmd"

func main() {
	cmd.Execute()
}
