// Command relayctl sends and receives messages through the relay adapter
// stack: a provider connection factory wrapped by a managed connection
// factory and pooled by the default connection manager.
//
//	relayctl send --config relay.yml --queue orders --text "hello"
//	relayctl receive --config relay.yml --queue orders --timeout 5s
//	relayctl config show --config relay.yml
//
// The provider is chosen by relay.mcf.provider: "amqp" (the default) dials
// the peer at relay.amqp.address, "local" runs an in-process broker.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(newRootOptions()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
