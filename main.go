package main

import "audio-transcriber/cmd"

func main() {
	cmd.Execute()
}
