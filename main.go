package main

import "github.com/zapvia/campaign-gateway/cmd"

func main() {
	cmd.Execute()
}
