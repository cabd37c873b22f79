package main

import (
	"os"

	"github.com/moative/billie/billieservice"
)

func main() {
	if err := billieservice.Run(); err != nil {
		os.Exit(1)
	}
}
