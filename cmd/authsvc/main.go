// Command authsvc runs the multi-channel customer authentication service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kossrlive/isignin/internal/server"
)

func main() {
	err := server.Run(context.Background(), server.Params{
		Name:  "authsvc",
		Setup: setup,
	}, server.Listeners{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "authsvc: %v\n", err)
		os.Exit(1)
	}
}
