package main

import "voice-activation-detection/cmd"

func main() {
	cmd.Execute()
}
