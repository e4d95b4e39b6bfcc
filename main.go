package main

import "github.com/South-Winder12138/mineru-service/cmd"

func main() {
	cmd.Execute()
}
