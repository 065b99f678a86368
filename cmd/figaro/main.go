package main

import "github.com/byt3bl33d3r/figaro-sub000/services/controlplane/cli"

func main() {
	cli.Execute()
}
