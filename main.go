package main

import (
	"fmt"

	"github.com/bacalhau-project/armpoller/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		return
	}
}
