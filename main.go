package main

import "github.com/openshift/sippy-chat/cmd"

func main() {
	cmd.Execute()
}
