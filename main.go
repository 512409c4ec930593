package main

import "github.com/frahmantamala/consulthub/cmd"

func main() {
	cmd.Execute()
}
