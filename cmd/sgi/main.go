// Command sgi runs the conversational assistant of the infrastructure
// management system: the WhatsApp webhook, the internal chat API and the
// magic-link redirects, plus a few operator tools.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
