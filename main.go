package main

import "github.com/jmehdipour/email-scheduler/cmd"

func main() {
	cmd.Execute()
}
