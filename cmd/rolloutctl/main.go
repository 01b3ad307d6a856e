// rolloutctl is the operator CLI for the rollout control plane.
package main

import "github.com/strand-protocol/strand/rollout-cloud/rolloutctl/cmd"

func main() {
	cmd.Execute()
}
